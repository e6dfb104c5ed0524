package mem

import (
	"bytes"
	"context"
	"testing"

	"github.com/pkg/errors"

	"github.com/bobg/blobpack"
)

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := New()

	name := []byte{1, 2, 3}
	err := b.Store(ctx, name, []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := b.Retrieve(ctx, name)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Errorf("got %q, want %q", got, "hello")
	}

	// Overwrites replace.
	err = b.Store(ctx, name, []byte("goodbye"))
	if err != nil {
		t.Fatal(err)
	}
	got, err = b.Retrieve(ctx, name)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("goodbye")) {
		t.Errorf("got %q, want %q", got, "goodbye")
	}

	err = b.Delete(ctx, name)
	if err != nil {
		t.Fatal(err)
	}
	_, err = b.Retrieve(ctx, name)
	if !errors.Is(err, blobpack.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}
