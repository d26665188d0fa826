package source

import (
	"encoding/json"

	"github.com/workhistory/history-migrator/internal/domain"
)

// Document is the export shape of one work item's history.
type Document struct {
	ItemID     string            `json:"item_id"`
	CreatedAt  string            `json:"created_at,omitempty"`
	FinalState domain.Attributes `json:"final_state"`
	Comments   []CommentRecord   `json:"comments,omitempty"`
	Changes    []ChangeRecord    `json:"changes,omitempty"`
}

// CommentRecord is one exported comment.
type CommentRecord struct {
	ID       string `json:"id"`
	Sequence *int   `json:"sequence,omitempty"`
	Created  string `json:"created"`
	Author   string `json:"author"`
	Body     string `json:"body"`
}

// ChangeRecord is one exported field-change record.
type ChangeRecord struct {
	ID       string            `json:"id"`
	Sequence *int              `json:"sequence,omitempty"`
	Created  string            `json:"created"`
	Author   string            `json:"author"`
	Items    []FieldItemRecord `json:"items"`
}

// FieldItemRecord is one attribute edit inside a change record. HasFrom and
// HasTo record whether the key was present, so "from": null differs from a
// missing "from".
type FieldItemRecord struct {
	Field   string `json:"field"`
	From    any    `json:"from"`
	To      any    `json:"to"`
	HasFrom bool   `json:"-"`
	HasTo   bool   `json:"-"`
}

func (r *FieldItemRecord) UnmarshalJSON(data []byte) error {
	type plain FieldItemRecord
	var rec plain
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	_, rec.HasFrom = keys["from"]
	_, rec.HasTo = keys["to"]
	*r = FieldItemRecord(rec)
	return nil
}

// ToRaw converts the export into the engine's input.
func (d Document) ToRaw() domain.RawHistory {
	raw := domain.RawHistory{
		ItemID:     d.ItemID,
		CreatedAt:  d.CreatedAt,
		FinalState: d.FinalState,
		Comments:   make([]domain.RawComment, 0, len(d.Comments)),
		Changes:    make([]domain.RawChange, 0, len(d.Changes)),
	}
	if raw.FinalState == nil {
		raw.FinalState = domain.Attributes{}
	}
	for _, c := range d.Comments {
		raw.Comments = append(raw.Comments, domain.RawComment{
			ID:       c.ID,
			Sequence: c.Sequence,
			Created:  c.Created,
			Author:   c.Author,
			Body:     c.Body,
		})
	}
	for _, ch := range d.Changes {
		items := make([]domain.RawFieldChange, 0, len(ch.Items))
		for _, it := range ch.Items {
			items = append(items, domain.RawFieldChange{
				Field:   it.Field,
				From:    it.From,
				To:      it.To,
				HasFrom: it.HasFrom,
				HasTo:   it.HasTo,
			})
		}
		raw.Changes = append(raw.Changes, domain.RawChange{
			ID:       ch.ID,
			Sequence: ch.Sequence,
			Created:  ch.Created,
			Author:   ch.Author,
			Items:    items,
		})
	}
	return raw
}
