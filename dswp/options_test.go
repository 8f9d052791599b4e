// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

package dswp

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseOptions(t *testing.T) {
	options := DefaultOptions()
	err := ParseOptions([]byte("ideal_threads: 4\nforce_no_scc_partition: true\n"), &options)
	if err != nil {
		t.Fatalf("ParseOptions: %v", err)
	}
	want := OptionsT{IdealThreads: 4, QueueCapacity: 64, ForceNoSCCPartition: true}
	if options != want {
		t.Errorf("got %+v, want %+v", options, want)
	}

	for _, bad := range []string{
		"ideal_threads: 0",
		"queue_capacity: -1",
		"max_loops: -2",
		"ideal_threads: [1",
		"ideal_threads: many",
	} {
		options := DefaultOptions()
		if err := ParseOptions([]byte(bad), &options); err == nil {
			t.Errorf("%q accepted", bad)
		}
	}
}

func TestLoadOptions(t *testing.T) {
	file := filepath.Join(t.TempDir(), "dswp.yaml")
	if err := os.WriteFile(file, []byte("queue_capacity: 8\nmax_loops: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	options, err := LoadOptions(file)
	if err != nil {
		t.Fatalf("LoadOptions: %v", err)
	}
	if options.QueueCapacity != 8 || options.MaxLoops != 3 || options.IdealThreads != 2 {
		t.Errorf("loaded %+v", options)
	}
	if _, err := LoadOptions(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("missing file not reported")
	}
}
