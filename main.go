// SPDX-License-Identifier: GPL-3.0-or-later
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mailtriage/go-mail-triage/analysis"
	"github.com/mailtriage/go-mail-triage/analysis/keyword"
	"github.com/mailtriage/go-mail-triage/analysis/remote"
	"github.com/mailtriage/go-mail-triage/batch"
	"github.com/mailtriage/go-mail-triage/config"
	"github.com/mailtriage/go-mail-triage/contacts"
	"github.com/mailtriage/go-mail-triage/domain"
	"github.com/mailtriage/go-mail-triage/executor"
	"github.com/mailtriage/go-mail-triage/log"
	"github.com/mailtriage/go-mail-triage/ratelimit"
	"github.com/mailtriage/go-mail-triage/rpcserver"
	"github.com/mailtriage/go-mail-triage/rules"
	"github.com/mailtriage/go-mail-triage/store/gmailstore"
	"github.com/mailtriage/go-mail-triage/store/imapstore"
	"github.com/mailtriage/go-mail-triage/triage"

	"github.com/sirupsen/logrus"
)

func main() {
	log.InitLogging("debug")
	logger := log.Logger(log.LOG_MAIN)

	conf, err := config.ReadConfig("config.toml")
	if err != nil {
		logger.WithField("error", err).Fatal("Could not load config")
	}

	if conf.Loglevel != nil {
		log.SetLogLevel(*conf.Loglevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store domain.MailStore
	if len(conf.GmailCredentials) > 0 {
		store, err = gmailstore.NewStore(ctx, conf.GmailCredentials, conf.GmailToken)
		if err != nil {
			logger.WithField("error", err).Fatal("Could not connect to gmail")
		}
	} else {
		store, err = imapstore.NewStore(conf.ImapHost, conf.ImapUser, conf.ImapPassword, conf.ImapArchiveFolder)
		if err != nil {
			logger.WithField("error", err).Fatal("Could not start imap connector")
		}
	}
	defer store.Close()

	var contactChecker domain.ContactChecker
	if len(conf.ContactsDatabase) > 0 {
		book, err := contacts.NewBook(conf.ContactsDatabase)
		if err != nil {
			logger.WithField("error", err).Fatal("Could not connect to contacts database")
		}
		defer book.Close()
		contactChecker = book
	}

	matcher, err := rules.NewMatcher(conf.Rules, contactChecker)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not compile classification rules")
	}

	var scorer domain.Scorer
	if len(conf.ScorerURL) > 0 {
		scorer, err = remote.NewScorer(conf.ScorerURL, conf.ScorerToken)
		if err != nil {
			logger.WithField("error", err).Fatal("Could not start remote scorer connector")
		}
	} else {
		logger.Info("No scorer url configured, using built-in keyword scorer")
		scorer = keyword.NewScorer()
	}

	gateway, err := analysis.NewGateway(scorer, conf.ConfidenceThreshold)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not start analysis gateway")
	}

	budget, err := ratelimit.NewBudget(conf.RateLimitTokens, conf.Window())
	if err != nil {
		logger.WithField("error", err).Fatal("Could not set up rate budget")
	}

	scheduler, err := batch.NewScheduler(budget, conf.MaxConcurrency)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not set up batch scheduler")
	}

	exec, err := executor.NewExecutor(store, conf.DryRun)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not set up action executor")
	}
	if conf.DryRun {
		logger.Warn("Dry-run is enabled, actions will be logged but not applied")
	}

	t, err := triage.NewTriage(
		store, matcher, gateway, scheduler, exec, budget,
		triage.MaxBatchIDs(conf.MaxBatchIDs),
		triage.SubBatchSize(conf.SubBatchSize),
	)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not start triage")
	}

	logger.WithFields(logrus.Fields{"rules": len(conf.Rules), "dryrun": conf.DryRun}).Info("Serving triage requests on stdio")
	err = rpcserver.NewServer(t, os.Stdin, os.Stdout).Run(ctx)
	if err != nil && ctx.Err() == nil {
		logger.WithField("error", err).Fatal("Serving failed")
	}
}
