package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDocument_MarshalJSON(t *testing.T) {
	b := &Budget{
		UserID:   "user-1",
		Month:    "2025-03",
		RemoteID: "srv-1",
		Amounts:  Amounts{FieldNetSalary: decimal.RequireFromString("3500.50")},
	}
	items := []*LineItem{{ID: "item-1", Type: ItemObligation, Category: "housing", Name: "Rent", Amount: decimal.NewFromInt(900)}}

	data, err := json.Marshal(NewDocument("2025-03", b, items))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if string(raw["id"]) != `"srv-1"` {
		t.Errorf("id = %s, want \"srv-1\"", raw["id"])
	}
	if string(raw["netSalary"]) != "3500.5" {
		t.Errorf("netSalary = %s, want 3500.5", raw["netSalary"])
	}
	if string(raw["groceries"]) != "0" {
		t.Errorf("groceries = %s, want 0", raw["groceries"])
	}
	if !strings.Contains(string(raw["customItems"]), `"id":"item-1"`) {
		t.Errorf("customItems = %s, want item-1", raw["customItems"])
	}
	if _, ok := raw["updatedAt"]; ok {
		t.Error("updatedAt written for a document the server has not stamped")
	}

	t.Run("empty document", func(t *testing.T) {
		data, err := json.Marshal(NewDocument("2025-04", nil, nil))
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		if strings.Contains(string(data), `"id"`) {
			t.Errorf("document without id wrote one: %s", data)
		}
		if !strings.Contains(string(data), `"customItems":[]`) {
			t.Errorf("customItems should be an empty array: %s", data)
		}
	})
}

func TestDocument_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantID    string
		wantNet   string
		wantItems int
		wantErr   bool
	}{
		{
			name:    "numeric id and string amounts",
			input:   `{"id":42,"month":"2025-03","netSalary":"1200.25","customItems":null}`,
			wantID:  "42",
			wantNet: "1200.25",
		},
		{
			name:      "number amounts and items",
			input:     `{"id":"abc","month":"2025-03","netSalary":800,"customItems":[{"id":"i1","type":"income","category":"grants","name":"Grant","amount":"50"}]}`,
			wantID:    "abc",
			wantNet:   "800",
			wantItems: 1,
		},
		{
			name:    "missing and null fields read as zero",
			input:   `{"month":"2025-03","netSalary":null,"unknown":"x"}`,
			wantNet: "0",
		},
		{
			name:    "bad amount",
			input:   `{"month":"2025-03","housing":"lots"}`,
			wantErr: true,
		},
		{
			name:    "not an object",
			input:   `[]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc Document
			err := json.Unmarshal([]byte(tt.input), &doc)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if doc.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", doc.ID, tt.wantID)
			}
			if got := doc.Amounts.Get(FieldNetSalary).String(); got != tt.wantNet {
				t.Errorf("netSalary = %s, want %s", got, tt.wantNet)
			}
			if len(doc.Items) != tt.wantItems {
				t.Errorf("len(Items) = %d, want %d", len(doc.Items), tt.wantItems)
			}
			if len(doc.Amounts) != len(AllFields()) {
				t.Errorf("len(Amounts) = %d, want every field", len(doc.Amounts))
			}
		})
	}

	t.Run("updatedAt", func(t *testing.T) {
		var doc Document
		if err := json.Unmarshal([]byte(`{"month":"2025-03","updatedAt":"2025-03-10T09:00:00Z"}`), &doc); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		want := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
		if doc.UpdatedAt == nil || !doc.UpdatedAt.Equal(want) {
			t.Errorf("UpdatedAt = %v, want %v", doc.UpdatedAt, want)
		}
	})
}

func TestAmounts(t *testing.T) {
	base := Amounts{FieldHousing: decimal.NewFromInt(1000)}

	merged := base.Merge(Amounts{FieldGroceries: decimal.NewFromInt(300)})
	if !merged.Get(FieldHousing).Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Merge() dropped housing: %s", merged.Get(FieldHousing))
	}
	if !merged.Get(FieldGroceries).Equal(decimal.NewFromInt(300)) {
		t.Errorf("Merge() groceries = %s, want 300", merged.Get(FieldGroceries))
	}
	if _, ok := base[FieldGroceries]; ok {
		t.Error("Merge() modified the receiver")
	}

	clone := base.Clone()
	clone[FieldHousing] = decimal.Zero
	if base.Get(FieldHousing).IsZero() {
		t.Error("Clone() shares storage with the original")
	}

	var nilAmounts Amounts
	if !nilAmounts.Get(FieldOther).IsZero() {
		t.Error("Get() on nil Amounts should be zero")
	}
}

func TestParseField(t *testing.T) {
	if f, err := ParseField("familySupport"); err != nil || f.Group() != GroupFixed {
		t.Errorf("ParseField(familySupport) = %q, %v", f, err)
	}
	if _, err := ParseField("rent"); err == nil {
		t.Error("ParseField(rent) expected error")
	}
	if got := len(AllFields()); got != 15 {
		t.Errorf("len(AllFields()) = %d, want 15", got)
	}
}
