package xerrors

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"testing"
)

type stackCarrier interface{ StackPCs() []uintptr }
type pcCarrier interface{ PC() uintptr }

func firstFunc(pcs []uintptr) string {
	fr, _ := runtime.CallersFrames(pcs).Next()
	return fr.Function
}

// New / Newf

func TestNew_MessageAndStack(t *testing.T) {
	err := New("boom")
	if err.Error() != "boom" {
		t.Fatalf("Error() = %q", err.Error())
	}
	sc, ok := err.(stackCarrier)
	if !ok || len(sc.StackPCs()) == 0 {
		t.Fatal("New should capture a stack")
	}
	if fn := firstFunc(sc.StackPCs()); !strings.HasSuffix(fn, "TestNew_MessageAndStack") {
		t.Fatalf("first frame = %q, want the caller", fn)
	}
}

func TestNewf_Formats(t *testing.T) {
	err := Newf("port %d busy", 8080)
	if err.Error() != "port 8080 busy" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestNewf_WrapsVerbW(t *testing.T) {
	err := Newf("read config: %w", io.EOF)
	if !errors.Is(err, io.EOF) {
		t.Fatal("Newf should keep %w chain")
	}
}

// WithStack / EnsureTrace

func TestWithStack(t *testing.T) {
	if WithStack(nil) != nil {
		t.Fatal("WithStack(nil) should be nil")
	}
	base := errors.New("plain")
	err := WithStack(base)
	if err.Error() != "plain" || errors.Unwrap(err) != base {
		t.Fatalf("WithStack changed the error: %v", err)
	}
}

func TestEnsureTrace(t *testing.T) {
	if EnsureTrace(nil) != nil {
		t.Fatal("EnsureTrace(nil) should be nil")
	}

	plain := errors.New("plain")
	traced := EnsureTrace(plain)
	if _, ok := traced.(stackCarrier); !ok {
		t.Fatal("plain error should gain a stack")
	}

	if again := EnsureTrace(traced); again != traced {
		t.Fatal("EnsureTrace should not stack twice")
	}

	// a stack deeper in the chain counts too
	wrapped := fmt.Errorf("outer: %w", New("inner"))
	if got := EnsureTrace(wrapped); got != wrapped {
		t.Fatal("EnsureTrace should detect a stack anywhere in the chain")
	}
}

// Wrap / Wrapf

func TestWrap(t *testing.T) {
	if Wrap(nil, "x") != nil || Wrapf(nil, "x %d", 1) != nil {
		t.Fatal("wrapping nil should return nil")
	}

	base := io.ErrUnexpectedEOF
	err := Wrap(base, "read body")
	if err.Error() != "read body: unexpected EOF" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, base) {
		t.Fatal("Wrap should unwrap to base")
	}
	pc, ok := err.(pcCarrier)
	if !ok || pc.PC() == 0 {
		t.Fatal("Wrap should record a PC")
	}
	if fn := firstFunc([]uintptr{pc.PC()}); !strings.HasSuffix(fn, "TestWrap") {
		t.Fatalf("PC func = %q, want the caller", fn)
	}
}

func TestWrapf_Formats(t *testing.T) {
	err := Wrapf(errors.New("refused"), "dial %s", "db:5432")
	if err.Error() != "dial db:5432: refused" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestChainedWrap_ErrorsAs(t *testing.T) {
	var target *stacked
	err := Wrap(Wrap(New("root"), "mid"), "top")
	if !As(err, &target) {
		t.Fatal("As should find the stacked root")
	}
	if target.Error() != "root" {
		t.Fatalf("target = %q", target.Error())
	}
	if !Is(err, target) {
		t.Fatal("Is should match the root")
	}
}

func TestJoin(t *testing.T) {
	a, b := errors.New("a"), errors.New("b")
	err := Join(a, nil, b)
	if !errors.Is(err, a) || !errors.Is(err, b) {
		t.Fatalf("Join lost members: %v", err)
	}
	if Join(nil, nil) != nil {
		t.Fatal("Join of nils should be nil")
	}
}
