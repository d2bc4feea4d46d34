package dorm

import (
	"errors"
	"testing"
)

func TestTypedef(t *testing.T) {
	tests := []struct {
		name   string
		field  string
		column Column
		want   string
	}{
		{
			name:   "primary key",
			field:  "id",
			column: PK,
			want:   "id integer PRIMARY KEY",
		},
		{
			name:   "string",
			field:  "title",
			column: String,
			want:   "title text NOT NULL DEFAULT ''",
		},
		{
			name:   "unique string",
			field:  "slug",
			column: UniqueString,
			want:   "slug text NOT NULL UNIQUE",
		},
		{
			name:   "integer",
			field:  "views",
			column: Integer,
			want:   "views integer",
		},
		{
			name:   "timestamp",
			field:  "created",
			column: Timestamp,
			want:   "created timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP",
		},
		{
			name:   "binary",
			field:  "payload",
			column: Binary,
			want:   "payload blob",
		},
		{
			name:   "json",
			field:  "meta",
			column: JSON,
			want:   "meta text NOT NULL DEFAULT '{}'",
		},
		{
			name:  "clause order is fixed",
			field: "code",
			column: Column{
				SQLType: "text",
				Unique:  true,
				NotNull: true,
				Default: "'x'",
			},
			want: "code text NOT NULL UNIQUE DEFAULT 'x'",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.column.Typedef(tt.field)
			if err != nil {
				t.Fatalf("Typedef() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Typedef() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTypedefGeneratedDefault(t *testing.T) {
	calls := 0
	col := Column{SQLType: "text", Default: DefaultFunc(func() string {
		calls++
		return "'generated'"
	})}

	got, err := col.Typedef("token")
	if err != nil {
		t.Fatalf("Typedef() error = %v", err)
	}
	if got != "token text DEFAULT 'generated'" {
		t.Errorf("Typedef() = %q", got)
	}
	if calls != 1 {
		t.Errorf("generator ran %d times, want 1", calls)
	}
}

func TestTypedefRejectsNonIntegerPK(t *testing.T) {
	col := Column{SQLType: "text", PrimaryKey: true}
	_, err := col.Typedef("name")
	var derr *DescriptorError
	if !errors.As(err, &derr) {
		t.Fatalf("Typedef() error = %v, want a DescriptorError", err)
	}
	if derr.Field != "name" {
		t.Errorf("Field = %q, want name", derr.Field)
	}
}

func TestColumnValidate(t *testing.T) {
	tests := []struct {
		name    string
		column  Column
		wantErr bool
	}{
		{name: "plain column", column: Integer, wantErr: false},
		{name: "missing type", column: Column{}, wantErr: true},
		{name: "text primary key", column: Column{SQLType: "text", PrimaryKey: true}, wantErr: true},
		{name: "bad default kind", column: Column{SQLType: "text", Default: 7}, wantErr: true},
		{name: "generator default", column: Column{SQLType: "text", Default: func() string { return "'x'" }}, wantErr: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.column.validate("f")
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIntegerFamily(t *testing.T) {
	tests := []struct {
		sqlType string
		want    bool
	}{
		{"integer", true},
		{"INT", true},
		{"int8", true},
		{"  integer  ", true},
		{"text", false},
		{"bigserial", false},
	}
	for _, tt := range tests {
		if got := integerFamily(tt.sqlType); got != tt.want {
			t.Errorf("integerFamily(%q) = %v, want %v", tt.sqlType, got, tt.want)
		}
	}
}

func TestBaseType(t *testing.T) {
	tests := []struct {
		sqlType string
		want    string
	}{
		{"integer", "integer"},
		{"varchar(30) collate nocase", "varchar(30)"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := baseType(tt.sqlType); got != tt.want {
			t.Errorf("baseType(%q) = %q, want %q", tt.sqlType, got, tt.want)
		}
	}
}

func TestConversionRoundTrips(t *testing.T) {
	t.Run("email normalizes on the way in", func(t *testing.T) {
		v, err := Email.storageValue("  Bob@Host.ORG ")
		if err != nil {
			t.Fatalf("storageValue() error = %v", err)
		}
		if v != "bob@host.org" {
			t.Errorf("storageValue() = %v", v)
		}
	})

	t.Run("email rejects non-strings", func(t *testing.T) {
		if _, err := Email.storageValue(12); err == nil {
			t.Error("storageValue() accepted a non-string")
		}
	})

	t.Run("json survives a storage round-trip", func(t *testing.T) {
		in := map[string]any{"k": []any{float64(1), "two"}}
		stored, err := JSON.storageValue(in)
		if err != nil {
			t.Fatalf("storageValue() error = %v", err)
		}
		out, err := JSON.nativeValue(stored)
		if err != nil {
			t.Fatalf("nativeValue() error = %v", err)
		}
		if m, ok := out.(map[string]any); !ok || len(m) != 1 {
			t.Errorf("nativeValue() = %#v", out)
		}
	})

	t.Run("json tolerates blob storage and nil", func(t *testing.T) {
		out, err := JSON.nativeValue([]byte(`{"a":1}`))
		if err != nil {
			t.Fatalf("nativeValue() error = %v", err)
		}
		if out == nil {
			t.Error("nativeValue() = nil")
		}
		if out, err := JSON.nativeValue(nil); err != nil || out != nil {
			t.Errorf("nativeValue(nil) = %v, %v", out, err)
		}
	})

	t.Run("identity when no conversion is declared", func(t *testing.T) {
		v, err := Integer.nativeValue(int64(7))
		if err != nil || v != int64(7) {
			t.Errorf("nativeValue() = %v, %v", v, err)
		}
	})
}
