// Package event provides a synchronous publish/subscribe bus for arbiter.
//
// The knowledge store publishes [KnowledgeWritten] after every successful
// write; the engine publishes decision, RFC, breaker, budget and merge
// events. Telemetry and watch mode subscribe to them without the publishers
// knowing about either.
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(event.TypeDecisionMade, func(e event.Event) {
//	    d := e.(event.DecisionMade)
//	    fmt.Println(d.ProposalID, d.Decision)
//	})
package event
