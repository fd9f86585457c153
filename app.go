package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"crm-automation/api/pkg/db"
	"crm-automation/api/services/links"
	"crm-automation/api/services/workflow"
)

// app holds the components shared by the serve and tick commands.
type app struct {
	links     *links.Service
	workflows *workflow.Repository
	engine    *workflow.Engine
	triggers  *workflow.TriggerEvaluator
}

func newApp(conn db.DB, reg prometheus.Registerer) (*app, error) {
	records := db.NewRecords(conn)
	linkService := links.NewService(links.NewRepository(conn), cfg.Links.BaseURL)

	registry := workflow.NewDefaultRegistry(workflow.Dependencies{
		Mailer:            workflow.NewSMTPMailer(cfg.Mail),
		Analyzer:          workflow.NewHTTPAnalyzer(cfg.AI.Endpoint, cfg.AI.APIKey, cfg.AI.Timeout),
		Links:             linkService,
		Bridge:            workflow.NewHTTPBridge(cfg.Webhook.BridgeURL, cfg.Webhook.Timeout),
		DefaultLinkExpiry: cfg.Links.DefaultExpiryDays,
	})

	metrics, err := workflow.NewMetricsSink(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	engine := workflow.NewEngine(registry,
		workflow.WithStore(records),
		workflow.WithExecutionLog(workflow.NewStoreExecutionLog(records)),
		workflow.WithNotifier(workflow.MultiSink{workflow.NewStoreSink(records), metrics}),
		workflow.WithNodeTimeout(cfg.Engine.NodeTimeout),
	)

	repo := workflow.NewRepository(conn)
	return &app{
		links:     linkService,
		workflows: repo,
		engine:    engine,
		triggers:  workflow.NewTriggerEvaluator(repo, engine, cfg.Engine.TickConcurrency),
	}, nil
}
