package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Document is the whole-budget representation exchanged with the remote store:
// every header field plus the complete list of custom line items.
type Document struct {
	ID        string
	Month     string
	Amounts   Amounts
	Items     []DocumentItem
	UpdatedAt *time.Time
}

// DocumentItem is a line item as carried inside a Document.
type DocumentItem struct {
	ID       string          `json:"id"`
	Type     LineItemType    `json:"type"`
	Category string          `json:"category"`
	Name     string          `json:"name"`
	Amount   decimal.Decimal `json:"amount"`
}

// NewDocument builds a Document from a local budget header and its line items.
// A nil budget produces a zeroed header for month.
func NewDocument(month string, b *Budget, items []*LineItem) *Document {
	doc := &Document{
		Month:   month,
		Amounts: ZeroAmounts(),
		Items:   make([]DocumentItem, 0, len(items)),
	}
	if b != nil {
		doc.ID = b.RemoteID
		doc.Amounts = b.Amounts.Clone()
	}
	for _, item := range items {
		doc.Items = append(doc.Items, item.DocumentItem())
	}
	return doc
}

// DocumentItem converts a local line item to its wire form.
func (i *LineItem) DocumentItem() DocumentItem {
	return DocumentItem{
		ID:       i.ID,
		Type:     i.Type,
		Category: i.Category,
		Name:     i.Name,
		Amount:   i.Amount,
	}
}

// MarshalJSON writes header fields at the top level alongside "customItems",
// matching the remote API's budget shape.
func (d Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(AllFields())+4)
	if d.ID != "" {
		out["id"] = d.ID
	}
	out["month"] = d.Month
	for _, f := range AllFields() {
		out[string(f)] = json.Number(d.Amounts.Get(f).String())
	}
	items := d.Items
	if items == nil {
		items = []DocumentItem{}
	}
	out["customItems"] = items
	if d.UpdatedAt != nil {
		out["updatedAt"] = d.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the flat remote budget shape. Unknown keys are ignored.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var doc Document
	doc.Amounts = ZeroAmounts()

	if v, ok := raw["id"]; ok {
		if err := json.Unmarshal(v, &doc.ID); err != nil {
			// Some servers use numeric ids.
			var n json.Number
			if err := json.Unmarshal(v, &n); err != nil {
				return fmt.Errorf("decoding id: %w", err)
			}
			doc.ID = n.String()
		}
	}
	if v, ok := raw["month"]; ok {
		if err := json.Unmarshal(v, &doc.Month); err != nil {
			return fmt.Errorf("decoding month: %w", err)
		}
	}
	for _, f := range AllFields() {
		v, ok := raw[string(f)]
		if !ok || string(v) == "null" {
			continue
		}
		var amount decimal.Decimal
		if err := amount.UnmarshalJSON(v); err != nil {
			return fmt.Errorf("decoding %s: %w", f, err)
		}
		doc.Amounts[f] = amount
	}
	if v, ok := raw["customItems"]; ok && string(v) != "null" {
		if err := json.Unmarshal(v, &doc.Items); err != nil {
			return fmt.Errorf("decoding customItems: %w", err)
		}
	}
	if v, ok := raw["updatedAt"]; ok && string(v) != "null" {
		var ts time.Time
		if err := json.Unmarshal(v, &ts); err != nil {
			return fmt.Errorf("decoding updatedAt: %w", err)
		}
		doc.UpdatedAt = &ts
	}

	*d = doc
	return nil
}
