package calc

import (
	"context"
	"fmt"
	"sync"

	"github.com/danmuck/contractrpc/internal/auth"
	"github.com/danmuck/contractrpc/internal/contract"
	"github.com/danmuck/contractrpc/internal/host"
	"github.com/danmuck/contractrpc/internal/protocol"
	"github.com/danmuck/contractrpc/internal/status"
	"github.com/danmuck/contractrpc/internal/wire"
	"github.com/google/uuid"
)

// Service implements Calculator. Sessions are issued by Login and checked
// by SessionFilter.
type Service struct {
	creds auth.Validator

	mu       sync.RWMutex
	sessions map[string]string
}

var _ Calculator = (*Service)(nil)

// NewService checks logins against a fixed user table.
func NewService(users map[string]string) *Service {
	return NewServiceWith(auth.Users(users))
}

func NewServiceWith(creds auth.Validator) *Service {
	return &Service{creds: creds, sessions: make(map[string]string)}
}

func (s *Service) Add(a, b int) int { return a + b }

func (s *Service) Divide(a, b int, remainder *int) (int, error) {
	if b == 0 {
		return 0, status.NewError(status.BadRequest, ErrDivideByZero.Error())
	}
	*remainder = a % b
	return a / b, nil
}

func (s *Service) Echo(text string) wire.ResultOf[string] {
	if text == "" {
		return wire.FailOf[string](status.NewError(status.BadRequest, "nothing to echo"))
	}
	return wire.Succeed(text)
}

func (s *Service) Login(ctx context.Context, user, password string) wire.Result {
	if err := s.creds.Validate(user, password); err != nil {
		return wire.Fail(status.NewError(status.Unauthorized, "invalid credentials"))
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = user
	s.mu.Unlock()
	host.SetSession(ctx, id)
	return wire.OK()
}

func (s *Service) Ping() {}

func (s *Service) Stats(values []float64) wire.ResultOf[Stats] {
	if len(values) == 0 {
		return wire.FailOf[Stats](status.NewError(status.BadRequest, "values must not be empty"))
	}
	st := Stats{Count: len(values), Min: values[0], Max: values[0]}
	for _, v := range values {
		st.Sum += v
		st.Min = min(st.Min, v)
		st.Max = max(st.Max, v)
	}
	st.Mean = st.Sum / float64(st.Count)
	return wire.Succeed(st)
}

// Upload totals the sizes of the attached files and returns a receipt file.
func (s *Service) Upload(ctx context.Context, label string) (int, error) {
	files := host.Files(ctx)
	if len(files) == 0 {
		return 0, status.NewError(status.BadRequest, "no files attached")
	}
	total := 0
	receipt := label + "\n"
	for _, f := range files {
		total += len(f.Data)
		receipt += fmt.Sprintf("%s %d\n", f.Name, len(f.Data))
	}
	host.AttachFiles(ctx, protocol.File{Name: label + ".receipt", ContentType: "text/plain", Data: []byte(receipt)})
	host.SetHeader(ctx, "X-Upload-Total", fmt.Sprint(total))
	return total, nil
}

func (s *Service) Whoami(ctx context.Context) string {
	user, _ := s.user(host.Session(ctx))
	return user
}

func (s *Service) user(session string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.sessions[session]
	return u, ok
}

// SessionFilter rejects calls whose session was not issued by Login.
func (s *Service) SessionFilter() contract.Filter {
	return contract.FilterFunc{Priority: 10, Fn: func(call *contract.Call, next func() error) error {
		if _, ok := s.user(call.Session); !ok {
			return status.NewError(status.Unauthorized, "unknown session")
		}
		return next()
	}}
}
