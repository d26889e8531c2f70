package agent

import (
	"reflect"
	"testing"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	parser := NewPDFParser()
	if err := r.Register(parser); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if got := r.Get(NamePDFParser); got != parser {
		t.Error("Get returned a different worker")
	}
	if got := r.Get("unknown"); got != nil {
		t.Error("Get for unknown name should be nil")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewPDFParser()); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(NewPDFParser()); err == nil {
		t.Fatal("duplicate registration must be rejected")
	}
}

func TestRegistryNamesKeepRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(NewHTMLPresenter())
	r.MustRegister(NewPDFParser())

	want := []string{NameHTMLPresenter, NamePDFParser}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names = %v, want %v", got, want)
	}
}

func TestRegistryByCapability(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(NewPDFParser())
	r.MustRegister(NewDocumentResearcher(t.TempDir(), 5))

	got := r.ByCapability("pdf_parsing")
	if len(got) != 1 || got[0].Name() != NamePDFParser {
		t.Errorf("ByCapability(pdf_parsing) = %v", got)
	}
	if got := r.ByCapability("time_travel"); len(got) != 0 {
		t.Errorf("unexpected workers: %v", got)
	}
}
