package main

import (
	"context"
	"flag"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/petr-muller/bzreport/internal/config"
	"github.com/petr-muller/bzreport/internal/flagutil"
	"github.com/petr-muller/bzreport/internal/mappings"
	"github.com/petr-muller/bzreport/internal/service"
)

type options struct {
	mappings string

	bugzilla flagutil.BugzillaOptions
}

func gatherOptions() options {
	var o options
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	fs.StringVar(&o.mappings, "mappings", mappings.DefaultPath(), "Path to the component to team mappings to update")

	o.bugzilla.AddFlags(fs)

	if err := fs.Parse(os.Args[1:]); err != nil {
		logrus.WithError(err).Fatalf("cannot parse args: '%s'", os.Args[1:])
	}

	return o
}

func (o *options) validate() error {
	return o.bugzilla.Validate()
}

func main() {
	o := gatherOptions()
	if err := o.validate(); err != nil {
		logrus.WithError(err).Fatal("invalid options")
	}

	client, err := o.bugzilla.Client(nil)
	if err != nil {
		logrus.WithError(err).Fatal("cannot create Bugzilla client")
	}

	logrus.Infof("Fetching products and components from %s", client.Endpoint())
	svc := service.NewService(client, nil, config.Settings{})
	if _, err := svc.SyncTeams(context.Background(), o.mappings); err != nil {
		logrus.WithError(err).Fatal("cannot update team mappings")
	}
}
