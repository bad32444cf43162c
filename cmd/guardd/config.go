package main

import (
	"github.com/dmitrymomot/guard"
	"github.com/dmitrymomot/guard/core/server"
)

type Config struct {
	AppName string `env:"APP_NAME" envDefault:"guardd"`
	Debug   bool   `env:"DEBUG" envDefault:"false"`

	// DemoUser and DemoPassword are the only credentials the demo login accepts.
	DemoUser     string `env:"DEMO_USER" envDefault:"admin"`
	DemoPassword string `env:"DEMO_PASSWORD,required"`

	Guard  guard.Config
	Server server.Config
}
