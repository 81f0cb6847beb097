package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"chongmu/internal/core"
	"chongmu/internal/services"
)

const maxBodyBytes = 1 << 20

// errBadRequest marks request bodies that could not be decoded.
var errBadRequest = errors.New("bad request")

type sessionRequest struct {
	Title string `json:"title"`
}

type participantRequest struct {
	Name string `json:"name"`
}

// expenseRequest accepts amounts as JSON numbers or as strings with
// thousands separators ("12,500").
type expenseRequest struct {
	Title         string                     `json:"title"`
	Amount        json.RawMessage            `json:"amount"`
	Currency      string                     `json:"currency"`
	ExchangeRate  float64                    `json:"exchangeRate"`
	PayerID       string                     `json:"payerId"`
	Beneficiaries []string                   `json:"beneficiaries"`
	SplitMode     string                     `json:"splitMode"`
	Shares        map[string]json.RawMessage `json:"shares"`
}

// readBody reads at most maxBodyBytes from the request.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return data, nil
}

// decodeJSON decodes the body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	data, err := readBody(w, r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", errBadRequest, err)
	}
	return nil
}

// toInput converts the request into service input, parsing amounts.
func (req expenseRequest) toInput() (services.ExpenseInput, error) {
	amount, err := parseAmount(req.Amount, false)
	if err != nil {
		return services.ExpenseInput{}, fmt.Errorf("amount: %w", err)
	}
	in := services.ExpenseInput{
		Title:         sanitizeInput(req.Title),
		Amount:        amount,
		Currency:      strings.TrimSpace(req.Currency),
		ExchangeRate:  req.ExchangeRate,
		PayerID:       strings.TrimSpace(req.PayerID),
		Beneficiaries: req.Beneficiaries,
		SplitMode:     core.SplitMode(strings.ToLower(strings.TrimSpace(req.SplitMode))),
	}
	if len(req.Shares) > 0 {
		in.Shares = make(map[string]int64, len(req.Shares))
		for id, raw := range req.Shares {
			v, err := parseAmount(raw, true)
			if err != nil {
				return services.ExpenseInput{}, fmt.Errorf("share for %s: %w", id, err)
			}
			in.Shares[id] = v
		}
	}
	return in, nil
}

// parseAmount reads a JSON number or string. Numbers are rounded half up;
// their sign is left for expense validation to judge, their magnitude is
// capped at core.MaxAmount. Strings go through core.ParseAmount, with "0"
// accepted only when allowZero is set.
func parseAmount(raw json.RawMessage, allowZero bool) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, core.ErrInvalidAmount
		}
		v, err := core.ParseAmount(s)
		if err != nil && allowZero && strings.Trim(s, "0., ") == "" && strings.Contains(s, "0") {
			return 0, nil
		}
		return v, err
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, core.ErrInvalidAmount
	}
	if math.IsNaN(f) || math.Abs(f) > float64(core.MaxAmount) {
		return 0, fmt.Errorf("%w: exceeds %d", core.ErrInvalidAmount, core.MaxAmount)
	}
	return core.Round(f), nil
}
