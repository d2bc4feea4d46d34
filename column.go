package dorm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Convert transforms a single value as it crosses the storage boundary.
// Conversions must be pure: the same input always yields the same output,
// and a nil Convert means the value passes through unchanged.
type Convert func(value any) (any, error)

// DefaultFunc produces a DDL default expression. It is evaluated when the
// column's DDL fragment is generated, not when the column is declared, so
// clock-based defaults pick up the generation time.
type DefaultFunc func() string

// Column declares how one record field is stored: its SQL storage type, its
// constraints, an optional DDL default, and the conversions applied on the
// way in and out of storage.
type Column struct {
	// SQLType is the storage type, e.g. "integer" or "text". The first
	// whitespace-delimited token is the base type used for schema diffing.
	SQLType string

	// Unique adds a UNIQUE constraint.
	Unique bool

	// NotNull adds a NOT NULL constraint.
	NotNull bool

	// PrimaryKey marks the column as the table's primary key. Only
	// integer-family storage types may be primary keys.
	PrimaryKey bool

	// Default is either a string embedded verbatim into the DDL or a
	// DefaultFunc evaluated at DDL-generation time. nil means no default.
	Default any

	// ToNative converts a stored value to its native representation when a
	// row is hydrated. nil is the identity.
	ToNative Convert

	// ToStorage converts a native value to its stored representation before
	// an INSERT or UPDATE. nil is the identity.
	ToStorage Convert
}

// Built-in column kinds, matching the storage conventions of SQLite.
// These are plain values; declarations copy them, so reusing one across
// several models is safe.
var (
	// PK is an integer primary key.
	PK = Column{SQLType: "integer", PrimaryKey: true}

	// String is non-null text defaulting to the empty string.
	String = Column{SQLType: "text", NotNull: true, Default: "''"}

	// UniqueString is non-null text with a UNIQUE constraint.
	UniqueString = Column{SQLType: "text", Unique: true, NotNull: true}

	// Integer is a plain integer column.
	Integer = Column{SQLType: "integer"}

	// Timestamp is a non-null timestamp defaulting to the insert time.
	Timestamp = Column{SQLType: "timestamp", NotNull: true, Default: "CURRENT_TIMESTAMP"}

	// Binary is a blob column.
	Binary = Column{SQLType: "blob"}

	// Email is non-null text, lower-cased and trimmed on the way to storage
	// and left as stored on the way out.
	Email = Column{SQLType: "text", NotNull: true, Default: "''", ToStorage: normalizeEmail}

	// UniqueEmail is a normalized email with a UNIQUE constraint.
	UniqueEmail = Column{SQLType: "text", Unique: true, NotNull: true, ToStorage: normalizeEmail}

	// JSON stores a nested native value as encoded text, defaulting to an
	// empty document.
	JSON = Column{SQLType: "text", NotNull: true, Default: "'{}'", ToNative: jsonToNative, ToStorage: jsonToStorage}
)

// Typedef renders the column's DDL fragment for the given field name:
// base type, then NOT NULL, UNIQUE, PRIMARY KEY and DEFAULT clauses in that
// order. It fails with a DescriptorError when PRIMARY KEY is requested on a
// non-integer storage type.
func (c Column) Typedef(name string) (string, error) {
	var b strings.Builder
	b.WriteString(name)
	b.WriteString(" ")
	b.WriteString(c.SQLType)
	if c.NotNull {
		b.WriteString(" NOT NULL")
	}
	if c.Unique {
		b.WriteString(" UNIQUE")
	}
	if c.PrimaryKey {
		if !integerFamily(c.SQLType) {
			return "", &DescriptorError{Field: name, Reason: "only integer PRIMARY KEYs are supported"}
		}
		b.WriteString(" PRIMARY KEY")
	}
	if c.Default != nil {
		d, err := c.defaultExpr()
		if err != nil {
			return "", &DescriptorError{Field: name, Reason: err.Error()}
		}
		fmt.Fprintf(&b, " DEFAULT %s", d)
	}
	return b.String(), nil
}

// validate checks the declaration itself, without rendering DDL. It is run
// for every column when a model is bound, so a malformed descriptor fails at
// declaration time rather than on first use.
func (c Column) validate(name string) error {
	if strings.TrimSpace(c.SQLType) == "" {
		return &DescriptorError{Field: name, Reason: "missing storage type"}
	}
	if c.PrimaryKey && !integerFamily(c.SQLType) {
		return &DescriptorError{Field: name, Reason: "only integer PRIMARY KEYs are supported"}
	}
	if c.Default != nil {
		if _, err := c.defaultExpr(); err != nil {
			return &DescriptorError{Field: name, Reason: err.Error()}
		}
	}
	return nil
}

// defaultExpr resolves the Default into DDL text, evaluating generators.
func (c Column) defaultExpr() (string, error) {
	switch d := c.Default.(type) {
	case string:
		return d, nil
	case DefaultFunc:
		return d(), nil
	case func() string:
		return d(), nil
	default:
		return "", fmt.Errorf("default must be a string or a generator, got %T", c.Default)
	}
}

// storageValue applies ToStorage, defaulting to the identity.
func (c Column) storageValue(v any) (any, error) {
	if c.ToStorage == nil {
		return v, nil
	}
	return c.ToStorage(v)
}

// nativeValue applies ToNative, defaulting to the identity.
func (c Column) nativeValue(v any) (any, error) {
	if c.ToNative == nil {
		return v, nil
	}
	return c.ToNative(v)
}

// integerFamily reports whether a storage type denotes an integer column.
func integerFamily(sqlType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(sqlType)), "int")
}

// baseType returns the first whitespace-delimited token of a storage type,
// which is what schema reconciliation compares against live metadata.
func baseType(sqlType string) string {
	fields := strings.Fields(sqlType)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func normalizeEmail(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("email value must be a string, got %T", v)
	}
	return strings.ToLower(strings.TrimSpace(s)), nil
}

func jsonToStorage(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding json column: %w", err)
	}
	return string(data), nil
}

func jsonToNative(v any) (any, error) {
	var data []byte
	switch s := v.(type) {
	case nil:
		return nil, nil
	case string:
		data = []byte(s)
	case []byte:
		data = s
	default:
		return nil, fmt.Errorf("json column holds %T, want text", v)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding json column: %w", err)
	}
	return out, nil
}
