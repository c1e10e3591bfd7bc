package valueconv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "$1,234.50", want: "1234.5"},
		{input: "€1.234,50", want: "1234.5"},
		{input: "1 234,5", want: "1234.5"},
		{input: "1,234", want: "1234"},
		{input: "12,5", want: "12.5"},
		{input: "GBP 99", want: "99"},
		{input: "(12.00)", want: "-12"},
		{input: "-7.25", want: "-7.25"},
		{input: "1.234.567", want: "1234567"},
		{input: "abc", wantErr: true},
		{input: "12#4", wantErr: true},
		{input: "USD 1,234.50", want: "1234.5"},
		{input: "1.234,50 EUR", want: "1234.5"},
		{input: "-$5", want: "-5"},
		{input: "USD -5", want: "-5"},
		{input: "12abc3", wantErr: true},
		{input: "1O0", wantErr: true},
		{input: "1-2", wantErr: true},
		{input: "1 2 3", want: "123"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name     string
		dataType core.DataType
		input    any
		want     any
		wantErr  bool
	}{
		{name: "number from string", dataType: core.DataTypeNumber, input: "20", want: 20.0},
		{name: "number from int", dataType: core.DataTypeNumber, input: 7, want: 7.0},
		{name: "number empty", dataType: core.DataTypeNumber, input: "  ", want: nil},
		{name: "number invalid", dataType: core.DataTypeNumber, input: "twenty", wantErr: true},
		{name: "currency rounds", dataType: core.DataTypeCurrency, input: "$10.005", want: 10.01},
		{name: "currency float", dataType: core.DataTypeCurrency, input: 3.14159, want: 3.14},
		{name: "bool yes", dataType: core.DataTypeBoolean, input: "Yes", want: true},
		{name: "bool empty", dataType: core.DataTypeBoolean, input: "", want: false},
		{name: "bool invalid", dataType: core.DataTypeBoolean, input: "maybe", wantErr: true},
		{name: "date iso", dataType: core.DataTypeDate, input: "2026-03-01", want: "2026-03-01"},
		{name: "date rfc3339", dataType: core.DataTypeDate, input: "2026-03-01T10:00:00Z", want: "2026-03-01"},
		{name: "date text", dataType: core.DataTypeDate, input: "Mar 1, 2026", want: "2026-03-01"},
		{name: "date time value", dataType: core.DataTypeDate, input: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), want: "2026-03-01"},
		{name: "date invalid", dataType: core.DataTypeDate, input: "soon", wantErr: true},
		{name: "email", dataType: core.DataTypeEmail, input: "  Ana@Example.COM ", want: "ana@example.com"},
		{name: "string passthrough", dataType: core.DataTypeString, input: " x ", want: " x "},
		{name: "select from number", dataType: core.DataTypeSelect, input: 3, want: "3"},
		{name: "nil", dataType: core.DataTypeNumber, input: nil, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.dataType, tt.input)
			if tt.wantErr {
				require.Error(t, err)
				var convErr *ConversionError
				assert.ErrorAs(t, err, &convErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
