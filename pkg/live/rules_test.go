package live

import "testing"

func TestRuleset_Evaluate(t *testing.T) {
	rules := DefaultRuleset()

	tests := []struct {
		name       string
		event      string
		params     Params
		wantStatus Status
	}{
		{"unknown event is ok", "page_view", nil, StatusOK},
		{"purchase with transaction id", "purchase", Params{"transaction_id": "tx_1"}, StatusOK},
		{"purchase missing transaction id", "purchase", Params{}, StatusError},
		{"purchase nil transaction id", "purchase", Params{"transaction_id": nil}, StatusError},
		{"purchase blank transaction id", "purchase", Params{"transaction_id": "  "}, StatusError},
		{"add_to_cart with currency", "add_to_cart", Params{"currency": "EUR"}, StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, message := rules.Evaluate(tt.event, tt.params)
			if status != tt.wantStatus {
				t.Fatalf("status = %q, want %q (message %q)", status, tt.wantStatus, message)
			}
			if status == StatusOK && message != "" {
				t.Fatalf("ok status must carry no message, got %q", message)
			}
			if status != StatusOK && message == "" {
				t.Fatal("flagged status must carry a message")
			}
		})
	}
}

func TestRuleset_Evaluate_MissingCurrencyWarns(t *testing.T) {
	status, message := DefaultRuleset().Evaluate("add_to_cart", Params{"sku": "A-1"})
	if status != StatusWarn {
		t.Fatalf("status = %q, want warn", status)
	}
	if message == "" {
		t.Fatal("expected a warning message")
	}
}

func TestRuleset_Evaluate_FirstMatchingRuleWins(t *testing.T) {
	rules := Ruleset{
		{Event: "checkout", RequiredParam: "order_id", Status: StatusError, Message: "no order id"},
		{Event: "checkout", RequiredParam: "currency", Status: StatusWarn, Message: "no currency"},
	}

	status, message := rules.Evaluate("checkout", Params{})
	if status != StatusError || message != "no order id" {
		t.Fatalf("expected first rule to win, got %q %q", status, message)
	}

	status, message = rules.Evaluate("checkout", Params{"order_id": "o_1"})
	if status != StatusWarn || message != "no currency" {
		t.Fatalf("expected second rule to apply, got %q %q", status, message)
	}
}

func TestHasParam_NonStringValues(t *testing.T) {
	if !hasParam(Params{"count": 0}, "count") {
		t.Fatal("numeric zero should count as present")
	}
	if !hasParam(Params{"flag": false}, "flag") {
		t.Fatal("boolean false should count as present")
	}
	if hasParam(nil, "anything") {
		t.Fatal("nil params have no keys")
	}
}
