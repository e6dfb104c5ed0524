package main

import (
	"context"
	"flag"
	"strconv"

	"github.com/pkg/errors"

	"github.com/bobg/blobpack"
)

func parsetag(s string) (blobpack.Tag, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	return blobpack.Tag(n), errors.Wrapf(err, "parsing tag %q", s)
}

func (c maincmd) tagAll(ctx context.Context, fs *flag.FlagSet, args []string) error {
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}
	args = fs.Args()
	if len(args) == 0 {
		return errors.New("missing tag")
	}

	tag, err := parsetag(args[0])
	if err != nil {
		return err
	}
	return errors.Wrapf(c.s.TagAll(ctx, tag), "tagging all blobs with %d", tag)
}

func (c maincmd) deleteByTag(ctx context.Context, fs *flag.FlagSet, args []string) error {
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}
	args = fs.Args()
	if len(args) == 0 {
		return errors.New("missing tag")
	}

	tag, err := parsetag(args[0])
	if err != nil {
		return err
	}
	return errors.Wrapf(c.s.DeleteByTag(ctx, tag), "deleting blobs tagged %d", tag)
}

func (c maincmd) flush(ctx context.Context, fs *flag.FlagSet, args []string) error {
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}
	return errors.Wrap(c.s.Flush(ctx), "flushing store")
}
