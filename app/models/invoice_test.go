package models

import "testing"

func TestParseInvoiceStatus(t *testing.T) {
	cases := []struct {
		raw  string
		want InvoiceStatus
	}{
		{"draft", InvoiceStatusDraft},
		{"open", InvoiceStatusOpen},
		{"PAID", InvoiceStatusPaid},
		{" uncollectible ", InvoiceStatusUncollectible},
		{"void", InvoiceStatusVoid},
		{"deleted", InvoiceStatusDeleted},
		{"", InvoiceStatusDraft},
		{"something_new", InvoiceStatusDraft},
	}
	for _, tc := range cases {
		if got := ParseInvoiceStatus(tc.raw); got != tc.want {
			t.Errorf("ParseInvoiceStatus(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestNotionStatusName(t *testing.T) {
	cases := []struct {
		status InvoiceStatus
		want   string
	}{
		{InvoiceStatusDraft, "Draft"},
		{InvoiceStatusOpen, "Pending"},
		{InvoiceStatusPaid, "Paid"},
		{InvoiceStatusUncollectible, "Void"},
		{InvoiceStatusVoid, "Void"},
		{InvoiceStatusDeleted, "Draft"},
	}
	for _, tc := range cases {
		if got := tc.status.NotionStatusName(); got != tc.want {
			t.Errorf("%q.NotionStatusName() = %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestFallbackInvoiceNumber(t *testing.T) {
	cases := []struct {
		name   string
		id     string
		status InvoiceStatus
		want   string
	}{
		{"draft gets suffix", "in_1PABCdefGHIJklmn", InvoiceStatusDraft, "GHIJKLMN-DRAFT"},
		{"open without suffix", "in_1PABCdefGHIJklmn", InvoiceStatusOpen, "GHIJKLMN"},
		{"short id", "in_abc", InvoiceStatusPaid, "ABC"},
		{"no underscore", "xyz12345678", InvoiceStatusVoid, "12345678"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FallbackInvoiceNumber(tc.id, tc.status); got != tc.want {
				t.Errorf("FallbackInvoiceNumber(%q, %q) = %q, want %q", tc.id, tc.status, got, tc.want)
			}
		})
	}
}
