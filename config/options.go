// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// loadOptions is the set of available options for Load
type loadOptions struct {
	withFile        string
	withEnvFile     string
	withEnvironment map[string]string
}

func loadDefaults() loadOptions {
	return loadOptions{}
}

func getLoadOpts(opt ...Option) loadOptions {
	opts := loadDefaults()
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	return opts
}

// WithFile provides an optional yaml settings file for: Load.
func WithFile(path string) Option {
	return func(o interface{}) {
		if o, ok := o.(*loadOptions); ok {
			o.withFile = path
		}
	}
}

// WithEnvFile provides an optional dotenv file for: Load.  Variables already
// set in the environment take precedence over the file's.
func WithEnvFile(path string) Option {
	return func(o interface{}) {
		if o, ok := o.(*loadOptions); ok {
			o.withEnvFile = path
		}
	}
}

// WithEnvironment provides an optional environment for: Load, used in place of
// the process environment.
func WithEnvironment(environment map[string]string) Option {
	return func(o interface{}) {
		if o, ok := o.(*loadOptions); ok {
			o.withEnvironment = environment
		}
	}
}
