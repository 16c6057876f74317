package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/matthewbaird/rentals/internal/gateway"
)

// Callback is the parsed form of an STK push callback. Fields the provider
// left out stay at their zero values.
type Callback struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        *int
	ResultDesc        string
	Metadata          map[string]any
}

type callbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        any    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string `json:"Name"`
					Value any    `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback decodes a provider callback. The metadata item list is
// folded into a map; items without a name or value are skipped.
func ParseCallback(raw []byte) (*Callback, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var env callbackEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding callback: %w", err)
	}
	stk := env.Body.StkCallback
	cb := &Callback{
		MerchantRequestID: strings.TrimSpace(stk.MerchantRequestID),
		CheckoutRequestID: strings.TrimSpace(stk.CheckoutRequestID),
		ResultDesc:        stk.ResultDesc,
		Metadata:          make(map[string]any),
	}
	if code, ok := asInt(stk.ResultCode); ok {
		cb.ResultCode = &code
	}
	for _, item := range stk.CallbackMetadata.Item {
		if item.Name == "" || item.Value == nil {
			continue
		}
		cb.Metadata[item.Name] = item.Value
	}
	return cb, nil
}

// Succeeded reports whether the provider signalled success (ResultCode 0).
func (cb *Callback) Succeeded() bool {
	return cb.ResultCode != nil && *cb.ResultCode == 0
}

// Receipt returns the MpesaReceiptNumber metadata item.
func (cb *Callback) Receipt() string {
	return asString(cb.Metadata["MpesaReceiptNumber"])
}

// TransactionDate parses the TransactionDate metadata item in loc.
func (cb *Callback) TransactionDate(loc *time.Location) (time.Time, bool) {
	s := asString(cb.Metadata["TransactionDate"])
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(gateway.TimestampLayout, s, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// AmountCents returns the Amount metadata item in cents.
func (cb *Callback) AmountCents() (int64, bool) {
	switch v := cb.Metadata["Amount"].(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return int64(f*100 + 0.5), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return int64(f*100 + 0.5), true
	}
	return 0, false
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	}
	return ""
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
