package main

import (
	"context"
	"encoding/hex"
	"flag"
	"os"

	"github.com/pkg/errors"

	"github.com/bobg/blobpack"
	"github.com/bobg/blobpack/split"
)

func (c maincmd) get(ctx context.Context, fs *flag.FlagSet, args []string) error {
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}
	args = fs.Args()
	if len(args) == 0 {
		return errors.New("missing ref")
	}

	refBytes, err := hex.DecodeString(args[0])
	if err != nil {
		return errors.Wrap(err, "decoding ref hex")
	}
	ref, err := blobpack.RefFromBytes(refBytes)
	if err != nil {
		return errors.Wrap(err, "decoding ref")
	}

	return errors.Wrap(split.Read(ctx, c.s, ref, os.Stdout), "reading tree to stdout")
}

func (c maincmd) getNamed(ctx context.Context, fs *flag.FlagSet, args []string) error {
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}
	args = fs.Args()
	if len(args) == 0 {
		return errors.New("missing name")
	}

	data, err := c.s.RetrieveNamed(ctx, args[0])
	if err != nil {
		return errors.Wrapf(err, "getting named blob %s", args[0])
	}
	_, err = os.Stdout.Write(data)
	return errors.Wrap(err, "writing blob to stdout")
}
