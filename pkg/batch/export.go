package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/verimail/engine/pkg/verifier"
)

// csvHeader is the fixed export column order. Downstream importers
// key on these names, so the order is part of the format.
var csvHeader = []string{
	"Email",
	"Valid",
	"Format Valid",
	"MX Records",
	"Disposable",
	"SMTP Check",
	"Role Account",
	"Catch All",
	"Spam Trap",
	"Suggestion",
}

// ExportCSV writes the job's results as CSV. Booleans are the literals
// true/false; the suggestion is always double-quoted so empty cells
// stay unambiguous. The owner scoping of Get applies.
func (s *Store) ExportCSV(ctx context.Context, id, owner string, w io.Writer) error {
	if _, err := s.Get(ctx, id, owner); err != nil {
		return err
	}
	rows, err := s.Results(ctx, id)
	if err != nil {
		return err
	}

	if _, err := io.WriteString(w, strings.Join(csvHeader, ",")+"\n"); err != nil {
		return err
	}
	for _, raw := range rows {
		var r verifier.Result
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return fmt.Errorf("batch: corrupt result for %s: %w", id, err)
		}
		line := strings.Join([]string{
			r.Email,
			strconv.FormatBool(r.IsValid),
			strconv.FormatBool(r.FormatValid),
			strconv.FormatBool(r.HasMX),
			strconv.FormatBool(r.IsDisposable),
			strconv.FormatBool(r.SMTPOk),
			strconv.FormatBool(r.IsRoleAccount),
			strconv.FormatBool(r.IsCatchAll),
			strconv.FormatBool(r.IsSpamTrap),
			strconv.Quote(r.Suggestion),
		}, ",")
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// ExportJSON streams the job's results as a JSON array without
// re-marshalling the stored documents. The owner scoping of Get applies.
func (s *Store) ExportJSON(ctx context.Context, id, owner string, w io.Writer) error {
	if _, err := s.Get(ctx, id, owner); err != nil {
		return err
	}
	rows, err := s.Results(ctx, id)
	if err != nil {
		return err
	}

	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	for i, raw := range rows {
		if i > 0 {
			if _, err := io.WriteString(w, ","); err != nil {
				return err
			}
		}
		if !json.Valid([]byte(raw)) {
			return fmt.Errorf("batch: corrupt result for %s", id)
		}
		if _, err := io.WriteString(w, raw); err != nil {
			return err
		}
	}
	_, err = io.WriteString(w, "]\n")
	return err
}
