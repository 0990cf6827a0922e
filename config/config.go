// Copyright 2018 Mark Wardle / Eldrix Ltd
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.
//

// Package config provides runtime configuration for the semantic index,
// loaded from an optional configuration file and SEMIDX_* environment
// variables, with defaults from the international edition's metadata.
package config

import (
	"github.com/spf13/viper"

	"github.com/wardle/go-semindex/snomed"
)

// Config is the runtime configuration of the semantic index updater.
type Config struct {
	SemanticIndexingEnabled     bool    `mapstructure:"semanticIndexingEnabled"`
	BatchSaveSize               int     `mapstructure:"batchSaveSize"`
	IsA                         int64   `mapstructure:"isA"`
	Root                        int64   `mapstructure:"root"`
	ConceptModelAttribute       int64   `mapstructure:"conceptModelAttribute"`
	ConceptModelObjectAttribute int64   `mapstructure:"conceptModelObjectAttribute"`
	OWLAxiomReferenceSet        int64   `mapstructure:"owlAxiomRefset"`
	StatedCharacteristicTypes   []int64 `mapstructure:"statedCharacteristicTypes"`
	InferredCharacteristicTypes []int64 `mapstructure:"inferredCharacteristicTypes"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("semanticIndexingEnabled", true)
	v.SetDefault("batchSaveSize", 1000)
	v.SetDefault("isA", snomed.IsA)
	v.SetDefault("root", snomed.Root)
	v.SetDefault("conceptModelAttribute", snomed.ConceptModelAttribute)
	v.SetDefault("conceptModelObjectAttribute", snomed.ConceptModelObjectAttribute)
	v.SetDefault("owlAxiomRefset", snomed.OWLAxiomReferenceSet)
	v.SetDefault("statedCharacteristicTypes", snomed.Stated.DefaultCharacteristicTypes())
	v.SetDefault("inferredCharacteristicTypes", snomed.Inferred.DefaultCharacteristicTypes())
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, _ := Load("")
	return cfg
}

// Load reads configuration from the named file (optional) and the
// environment, over the defaults.
func Load(filename string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("semidx")
	v.AutomaticEnv()
	if filename != "" {
		v.SetConfigFile(filename)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
