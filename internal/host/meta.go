package host

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/danmuck/contractrpc/internal/contract"
	"github.com/danmuck/contractrpc/internal/status"
	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
)

// MethodDescription is the metadata view of one contract method.
type MethodDescription struct {
	Identity       int      `json:"identity"`
	Name           string   `json:"name"`
	Params         []string `json:"params"`
	ParamTypes     []string `json:"paramTypes"`
	ByRef          []string `json:"byRef,omitempty"`
	Returns        string   `json:"returns,omitempty"`
	AllowAnonymous bool     `json:"allowAnonymous"`
}

type ContractDescription struct {
	Name    string              `json:"name"`
	Methods []MethodDescription `json:"methods"`
}

// ListArgs filters Contracts.List to one contract when Contract is set.
type ListArgs struct {
	Contract string `json:"contract,omitempty"`
}

type ListReply struct {
	Host      string                `json:"host"`
	Contracts []ContractDescription `json:"contracts"`
}

// MetaService answers JSON-RPC 2.0 metadata queries.
type MetaService struct {
	host *Host
}

// List describes the registered contracts.
func (s *MetaService) List(_ *http.Request, args *ListArgs, reply *ListReply) error {
	reply.Host = s.host.name
	for _, info := range s.host.Services() {
		if args.Contract != "" && !strings.EqualFold(args.Contract, info.Name) {
			continue
		}
		reply.Contracts = append(reply.Contracts, s.host.Describe(info))
	}
	if args.Contract != "" && len(reply.Contracts) == 0 {
		return &json2.Error{Code: json2.E_BAD_PARAMS, Message: status.NotFound.String() + ": " + args.Contract}
	}
	return nil
}

// Describe renders info with wire type names from the host codec.
func (h *Host) Describe(info *contract.Info) ContractDescription {
	types := h.codec.Registry()
	d := ContractDescription{Name: info.Name, Methods: make([]MethodDescription, 0, len(info.Methods))}
	for _, m := range info.Methods {
		md := MethodDescription{
			Identity:       m.Identity,
			Name:           m.Name,
			Params:         make([]string, len(m.Params)),
			ParamTypes:     make([]string, len(m.Params)),
			AllowAnonymous: m.AllowAnonymous,
		}
		for i, p := range m.Params {
			md.Params[i] = p.Name
			md.ParamTypes[i] = typeName(types.NameOf, p.WireType())
			if p.ByRef {
				md.ByRef = append(md.ByRef, p.Name)
			}
		}
		if m.Return != nil {
			md.Returns = typeName(types.NameOf, m.Return)
		}
		d.Methods = append(d.Methods, md)
	}
	return d
}

// MetaHandler serves MetaService as "Contracts" over JSON-RPC 2.0.
func (h *Host) MetaHandler() http.Handler {
	s := rpc.NewServer()
	s.RegisterCodec(json2.NewCodec(), "application/json")
	s.RegisterCodec(json2.NewCodec(), "application/json;charset=UTF-8")
	_ = s.RegisterService(&MetaService{host: h}, "Contracts")
	return s
}

func typeName(nameOf func(reflect.Type) (string, error), t reflect.Type) string {
	name, err := nameOf(t)
	if err != nil {
		return t.String()
	}
	return name
}

// FetchContracts calls Contracts.List on the metadata endpoint at url.
func FetchContracts(ctx context.Context, client *http.Client, url string, args ListArgs) (*ListReply, error) {
	if client == nil {
		client = http.DefaultClient
	}
	body, err := json2.EncodeClientRequest("Contracts.List", &args)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	var reply ListReply
	if err := json2.DecodeClientResponse(resp.Body, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}
