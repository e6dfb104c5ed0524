package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/bobg/blobpack/split"
)

func (c maincmd) put(ctx context.Context, fs *flag.FlagSet, args []string) error {
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}

	root, err := split.Write(ctx, c.s, os.Stdin)
	if err != nil {
		return errors.Wrap(err, "splitting stdin to store")
	}

	fmt.Printf("%s\n", hex.EncodeToString(root.Bytes()))
	return nil
}

func (c maincmd) putNamed(ctx context.Context, fs *flag.FlagSet, args []string) error {
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}
	args = fs.Args()
	if len(args) == 0 {
		return errors.New("missing name")
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return errors.Wrap(err, "reading stdin")
	}
	return errors.Wrapf(c.s.StoreNamed(ctx, args[0], data), "storing named blob %s", args[0])
}
