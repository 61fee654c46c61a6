package wire

import "fmt"

// FormatVersion identifies the tag table below. Tag bytes are frozen once
// assigned; adding tags is fine, changing one breaks stored payloads.
const FormatVersion byte = 1

// Tag is the one-byte discriminator prefixing every encoded value.
type Tag byte

const (
	TagReference Tag = 0x01
	TagNull      Tag = 0x02
	TagDBNull    Tag = 0x03
	TagResultOK  Tag = 0x04

	// Fixed-width primitives: scalar tag followed by its array tag.
	TagBool          Tag = 0x10
	TagBoolArray     Tag = 0x11
	TagInt8          Tag = 0x12
	TagInt8Array     Tag = 0x13
	TagUint8         Tag = 0x14
	TagBytes         Tag = 0x15
	TagInt16         Tag = 0x16
	TagInt16Array    Tag = 0x17
	TagUint16        Tag = 0x18
	TagUint16Array   Tag = 0x19
	TagInt32         Tag = 0x1A
	TagInt32Array    Tag = 0x1B
	TagUint32        Tag = 0x1C
	TagUint32Array   Tag = 0x1D
	TagInt64         Tag = 0x1E
	TagInt64Array    Tag = 0x1F
	TagUint64        Tag = 0x20
	TagUint64Array   Tag = 0x21
	TagInt           Tag = 0x22
	TagIntArray      Tag = 0x23
	TagUint          Tag = 0x24
	TagUintArray     Tag = 0x25
	TagFloat32       Tag = 0x26
	TagFloat32Array  Tag = 0x27
	TagFloat64       Tag = 0x28
	TagFloat64Array  Tag = 0x29
	TagDecimal       Tag = 0x2A
	TagDecimalArray  Tag = 0x2B
	TagGuid          Tag = 0x2C
	TagGuidArray     Tag = 0x2D
	TagDateTime      Tag = 0x2E
	TagDateTimeArray Tag = 0x2F
	TagTimeSpan      Tag = 0x30
	TagTimeSpanArray Tag = 0x31
	TagString        Tag = 0x32
	TagStringArray   Tag = 0x33

	// Composite shapes.
	TagArray                Tag = 0x40
	TagMultiRankArray       Tag = 0x41
	TagList                 Tag = 0x42
	TagDictionary           Tag = 0x43
	TagFoldDictionary       Tag = 0x44
	TagConcurrentDictionary Tag = 0x45
	TagObject               Tag = 0x46
	TagObjectArray          Tag = 0x47
	TagValueTypeObject      Tag = 0x48
	TagType                 Tag = 0x49

	TagResult   Tag = 0x50
	TagResultOf Tag = 0x51
)

var tagNames = map[Tag]string{
	TagReference:            "Reference",
	TagNull:                 "Null",
	TagDBNull:               "DBNull",
	TagResultOK:             "ResultOK",
	TagBool:                 "Bool",
	TagBoolArray:            "BoolArray",
	TagInt8:                 "Int8",
	TagInt8Array:            "Int8Array",
	TagUint8:                "Uint8",
	TagBytes:                "Bytes",
	TagInt16:                "Int16",
	TagInt16Array:           "Int16Array",
	TagUint16:               "Uint16",
	TagUint16Array:          "Uint16Array",
	TagInt32:                "Int32",
	TagInt32Array:           "Int32Array",
	TagUint32:               "Uint32",
	TagUint32Array:          "Uint32Array",
	TagInt64:                "Int64",
	TagInt64Array:           "Int64Array",
	TagUint64:               "Uint64",
	TagUint64Array:          "Uint64Array",
	TagInt:                  "Int",
	TagIntArray:             "IntArray",
	TagUint:                 "Uint",
	TagUintArray:            "UintArray",
	TagFloat32:              "Float32",
	TagFloat32Array:         "Float32Array",
	TagFloat64:              "Float64",
	TagFloat64Array:         "Float64Array",
	TagDecimal:              "Decimal",
	TagDecimalArray:         "DecimalArray",
	TagGuid:                 "Guid",
	TagGuidArray:            "GuidArray",
	TagDateTime:             "DateTime",
	TagDateTimeArray:        "DateTimeArray",
	TagTimeSpan:             "TimeSpan",
	TagTimeSpanArray:        "TimeSpanArray",
	TagString:               "String",
	TagStringArray:          "StringArray",
	TagArray:                "Array",
	TagMultiRankArray:       "MultiRankArray",
	TagList:                 "List",
	TagDictionary:           "Dictionary",
	TagFoldDictionary:       "FoldDictionary",
	TagConcurrentDictionary: "ConcurrentDictionary",
	TagObject:               "Object",
	TagObjectArray:          "ObjectArray",
	TagValueTypeObject:      "ValueTypeObject",
	TagType:                 "Type",
	TagResult:               "Result",
	TagResultOf:             "ResultOf",
}

// Known reports whether t is part of the tag table.
func (t Tag) Known() bool {
	_, ok := tagNames[t]
	return ok
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tag(0x%02x)", byte(t))
}
