package postgres

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"bankweb/internal/store"
)

// jcsPayload returns both representations the audit schema stores:
// payload_json (cast to jsonb in SQL) and the RFC 8785 canonical string.
func jcsPayload(v any) (payloadJSON json.RawMessage, payloadCanonical string, err error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, "", err
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, "", err
	}
	return json.RawMessage(raw), string(canon), nil
}

// RecordEvent is the single entry point for account_events inserts. It runs
// inside the caller's account lock, so the audit row commits or rolls back
// together with the balance change it describes.
func (t *accountTx) RecordEvent(ctx context.Context, eventType string, accountID int64, actor string, payload any) error {
	if strings.TrimSpace(eventType) == "" || strings.TrimSpace(actor) == "" {
		return store.ErrValidation
	}

	payloadJSON, payloadCanonical, err := jcsPayload(payload)
	if err != nil {
		return err
	}

	_, err = t.tx.Exec(ctx,
		`INSERT INTO account_events(event_id, event_type, account_id, actor, payload_json, payload_canonical)
		 VALUES($1,$2,$3,$4,$5::jsonb,$6)`,
		uuid.New(), eventType, accountID, actor, payloadJSON, payloadCanonical,
	)
	return err
}
