// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

package dswp

import (
	"os"

	"github.com/nikandfor/errors"
	"gopkg.in/yaml.v3"
)

type OptionsT struct {
	// Target number of stages.
	IdealThreads int `yaml:"ideal_threads"`
	// Buffer size of each queue, used by the dispatcher.
	QueueCapacity int `yaml:"queue_capacity"`
	// Make each non-removable SCC its own stage.
	ForceNoSCCPartition bool `yaml:"force_no_scc_partition"`
	// Maximum number of loops to transform per module, zero for all.
	MaxLoops int `yaml:"max_loops"`
}

func DefaultOptions() OptionsT {
	return OptionsT{
		IdealThreads:  2,
		QueueCapacity: 64,
	}
}

// Reads options from a YAML file.  Fields missing from the file keep
// their default values.

func LoadOptions(fileName string) (OptionsT, error) {
	options := DefaultOptions()
	data, err := os.ReadFile(fileName)
	if err != nil {
		return options, errors.Wrap(err, "read options")
	}
	if err := ParseOptions(data, &options); err != nil {
		return options, errors.Wrap(err, "%s", fileName)
	}
	return options, nil
}

func ParseOptions(data []byte, options *OptionsT) error {
	if err := yaml.Unmarshal(data, options); err != nil {
		return errors.Wrap(err, "parse options")
	}
	return options.Validate()
}

func (options *OptionsT) Validate() error {
	if options.IdealThreads < 1 {
		return errors.New("ideal_threads must be positive, got %d", options.IdealThreads)
	}
	if options.QueueCapacity < 1 {
		return errors.New("queue_capacity must be positive, got %d", options.QueueCapacity)
	}
	if options.MaxLoops < 0 {
		return errors.New("max_loops must not be negative, got %d", options.MaxLoops)
	}
	return nil
}
