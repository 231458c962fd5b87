package config

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// overlayKeys maps viper keys to the fields they override.
var overlayKeys = map[string]func(c *Root, v *viper.Viper, key string){
	"log_level": func(c *Root, v *viper.Viper, k string) { c.Pipeline.LogLvl = v.GetString(k) },
	"listen":    func(c *Root, v *viper.Viper, k string) { c.Server.Listen = v.GetString(k) },
	"store":     func(c *Root, v *viper.Viper, k string) { c.Store.Path = v.GetString(k) },
	"lexicon":   func(c *Root, v *viper.Viper, k string) { c.Rules.LexiconPath = v.GetString(k) },
	"nats.url":  func(c *Root, v *viper.Viper, k string) { c.NATS.URL = v.GetString(k) },
	"outputs":   func(c *Root, v *viper.Viper, k string) { c.Paths.Outputs = v.GetString(k) },
	"asr.url":   func(c *Root, v *viper.Viper, k string) { c.Services.ASR.URL = v.GetString(k) },
	"face.url":  func(c *Root, v *viper.Viper, k string) { c.Services.Face.URL = v.GetString(k) },
	"chat.url":  func(c *Root, v *viper.Viper, k string) { c.Services.Chat.URL = v.GetString(k) },
}

// flagName spells an overlay key as a flag: nats.url is --nats-url.
var flagName = strings.NewReplacer(".", "-", "_", "-")

// NewViper returns a viper bound to AFFECT_* environment variables
// (AFFECT_NATS_URL for nats.url) and to any of flags whose names match an
// overlay key.
func NewViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("AFFECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key := range overlayKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
		if flags == nil {
			continue
		}
		if f := flags.Lookup(flagName.Replace(key)); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	return v, nil
}

// Overlay applies every key set in v on top of c. Unset keys leave c
// untouched; a flag only counts as set when it was given explicitly.
func Overlay(c *Root, v *viper.Viper) {
	for key, apply := range overlayKeys {
		if v.IsSet(key) {
			apply(c, v, key)
		}
	}
}
