package export

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"expertdraw/internal/domain"
)

func fixture() (domain.DrawApplication, []domain.DrawResult) {
	loc := "Room 4"
	d := domain.DrawApplication{ID: "d1", ProjectName: "Bridge review", ReviewLocation: loc}
	sup := "r4"
	rows := []domain.DrawResult{
		{ID: "r2", ExpertID: "e2", Ordinal: 2, State: domain.ResultActive, ContactStatus: domain.ContactConfirmed, Expert: &domain.Expert{Name: "Bea", Organization: "Acme"}},
		{ID: "r1", ExpertID: "e1", Ordinal: 1, State: domain.ResultSuperseded, SupersededBy: &sup, ContactStatus: domain.ContactDeclined, Expert: &domain.Expert{Name: "Al"}},
		{ID: "r4", ExpertID: "e4", Ordinal: 1, State: domain.ResultActive, IsReplacement: true, ContactStatus: domain.ContactUnset, Expert: &domain.Expert{Name: "Dee"}},
		{ID: "r3", ExpertID: "e3", Ordinal: 1, State: domain.ResultActive, IsBackup: true, ContactStatus: domain.ContactUnset, Expert: &domain.Expert{Name: "Cy"}},
	}
	return d, rows
}

func TestResultsCSVListsActiveViewInOrder(t *testing.T) {
	d, rows := fixture()
	var buf bytes.Buffer
	if err := Results(&buf, d, rows, FormatCSV); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Contains(out, "Al") {
		t.Fatalf("superseded row exported:\n%s", out)
	}
	dee, bea, cy := strings.Index(out, "Dee"), strings.Index(out, "Bea"), strings.Index(out, "Cy")
	if dee < 0 || !(dee < bea && bea < cy) {
		t.Fatalf("unexpected order:\n%s", out)
	}
	if !strings.Contains(out, "backup") || !strings.Contains(out, "yes") {
		t.Fatalf("role or replacement flag missing:\n%s", out)
	}
}

func TestSignInSheetHasPrimariesOnly(t *testing.T) {
	d, rows := fixture()
	var buf bytes.Buffer
	if err := SignInSheet(&buf, d, rows, FormatText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "Dee") || !strings.Contains(out, "Bea") {
		t.Fatalf("primaries missing:\n%s", out)
	}
	if strings.Contains(out, "Cy") || strings.Contains(out, "Al") {
		t.Fatalf("non-primary listed:\n%s", out)
	}
	if !strings.Contains(out, "Bridge review") || !strings.Contains(out, "Room 4") {
		t.Fatalf("heading missing:\n%s", out)
	}
}

func TestFormats(t *testing.T) {
	d, rows := fixture()
	for _, f := range []string{"md", "html", "txt", ""} {
		format, err := ParseFormat(f)
		if err != nil {
			t.Fatalf("%q: %v", f, err)
		}
		var buf bytes.Buffer
		if err := Results(&buf, d, rows, format); err != nil || buf.Len() == 0 {
			t.Fatalf("%s render: %v", format, err)
		}
	}
	if _, err := ParseFormat("pdf"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if ContentType(FormatHTML) != "text/html; charset=utf-8" {
		t.Fatalf("content type")
	}
}
