// Command blobpack is a CLI interface to a blob-packing store.
//
// It reads a JSON config file describing the backend, the index, and
// the flush threshold, e.g.:
//
//	{
//	  "backend": {"type": "file", "root": "/var/blobpack"},
//	  "index": {"type": "sqlite3", "path": "/var/blobpack/index.db"},
//	  "max_blob_size": 4194304
//	}
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/bobg/subcmd"

	"github.com/bobg/blobpack"
	"github.com/bobg/blobpack/back"
	_ "github.com/bobg/blobpack/back/file"
	_ "github.com/bobg/blobpack/back/gcs"
	_ "github.com/bobg/blobpack/back/logging"
	_ "github.com/bobg/blobpack/back/lru"
	_ "github.com/bobg/blobpack/back/mem"
	"github.com/bobg/blobpack/index"
	_ "github.com/bobg/blobpack/index/mem"
	_ "github.com/bobg/blobpack/index/pg"
	_ "github.com/bobg/blobpack/index/sqlite3"
)

type maincmd struct {
	s *blobpack.Store
}

func main() {
	config := flag.String("config", "blobpack.json", "path to config file")
	flag.Parse()

	if *config == "" {
		log.Fatal("Config value not set")
	}

	var conf struct {
		Backend     map[string]interface{} `json:"backend"`
		Index       map[string]interface{} `json:"index"`
		MaxBlobSize int                    `json:"max_blob_size"`
	}
	f, err := os.Open(*config)
	if err != nil {
		log.Fatalf("Opening config file %s: %s", *config, err)
	}
	defer f.Close()

	err = json.NewDecoder(f).Decode(&conf)
	if err != nil {
		log.Fatalf("Decoding config file %s: %s", *config, err)
	}

	backendType, ok := conf.Backend["type"].(string)
	if !ok {
		log.Fatalf("Config file %s missing backend type", *config)
	}
	indexType, ok := conf.Index["type"].(string)
	if !ok {
		log.Fatalf("Config file %s missing index type", *config)
	}
	if conf.MaxBlobSize == 0 {
		conf.MaxBlobSize = blobpack.DefaultMaxBlobSize
	}

	ctx := context.Background()

	b, err := back.Create(ctx, backendType, conf.Backend)
	if err != nil {
		log.Fatalf("Creating %s-type backend: %s", backendType, err)
	}
	ix, err := index.Create(ctx, indexType, conf.Index)
	if err != nil {
		log.Fatalf("Creating %s-type index: %s", indexType, err)
	}
	s, err := blobpack.New(ctx, ix, b, conf.MaxBlobSize)
	if err != nil {
		log.Fatalf("Creating store: %s", err)
	}

	err = subcmd.Run(ctx, maincmd{s: s}, flag.Args())
	if err != nil {
		log.Fatal(err)
	}
}

func (c maincmd) Subcmds() map[string]subcmd.Subcmd {
	return map[string]subcmd.Subcmd{
		"put":           c.put,
		"get":           c.get,
		"put-named":     c.putNamed,
		"get-named":     c.getNamed,
		"tag-all":       c.tagAll,
		"delete-by-tag": c.deleteByTag,
		"flush":         c.flush,
	}
}
