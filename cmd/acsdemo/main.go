// Command acsdemo wires every ACS component into one narrated, end-to-end
// walkthrough: presence, direct messaging, blocking task delegation backed
// by a gated worker handler, a veto-capable voting proposal, a capability
// request ranked by the market package, delegation-capability-token
// minting/attenuation, a declarative job run, and the job IPC adapter's
// run/status verbs — replacing the teacher's main.go demo, which walked the
// same shape (agent registration, task decomposition, bidding, permission
// attenuation, monitoring, verification, adaptive coordination, security
// screening) against the NATS-backed delegation Engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/b00t-dev/acs/config"
	"github.com/b00t-dev/acs/coordinator"
	"github.com/b00t-dev/acs/envelope"
	"github.com/b00t-dev/acs/job"
	"github.com/b00t-dev/acs/jobipc"
	"github.com/b00t-dev/acs/market"
	"github.com/b00t-dev/acs/registry"
	"github.com/b00t-dev/acs/router"
	"github.com/b00t-dev/acs/security"
	"github.com/b00t-dev/acs/transport"
)

func main() {
	socketDir := flag.String("socket-dir", "", "directory for the unix-socket transport and presence registry (defaults to ACS_SOCKET_DIR or $HOME/.b00t/agents)")
	jobDir := flag.String("job-state-dir", "", "directory for job run state (defaults to ACS_JOB_STATE_DIR or $HOME/.b00t/jobs)")
	verbose := flag.Bool("verbose", false, "enable debug-level logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	var opts []config.Option
	if *socketDir != "" {
		opts = append(opts, config.WithSocketDir(*socketDir))
	}
	if *jobDir != "" {
		opts = append(opts, config.WithJobStateDir(*jobDir))
	}
	cfg := config.Load(opts...)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("acsdemo failed")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	const captainID = "agent-orchestrator-01"
	const workerID = "agent-coder-01"

	if err := os.MkdirAll(cfg.SocketDir, 0o755); err != nil {
		return err
	}

	fmt.Println("=== ACS Demo: standing up transports, registry, router ===")

	captainTransports, err := buildTransports(cfg)
	if err != nil {
		return err
	}
	workerTransports, err := buildTransports(cfg)
	if err != nil {
		return err
	}

	reg := registry.New(captainID, registry.WithDir(cfg.SocketDir))
	if err := reg.StartWatching(); err != nil {
		return err
	}
	defer reg.Close()

	rt := router.New(reg, captainTransports)
	workerRt := router.New(reg, workerTransports)

	breaker := security.NewCircuitBreaker(workerID, 3, 0.2)
	ledger := coordinator.NewReputationLedger()
	worker := coordinator.New(coordinator.Config{
		SelfID:       workerID,
		Role:         "worker",
		Capabilities: []string{"python", "go", "data_analysis"},
		Registry:     reg,
		Router:       workerRt,
		Transports:   workerTransports,
	})
	worker.SetWorkerHandler(coordinator.NewTrustHandler(
		security.NewGatedHandler(&jobRunningWorker{worker: worker}, breaker), ledger))

	captain := coordinator.New(coordinator.Config{
		SelfID:       captainID,
		Role:         "orchestrator",
		Capabilities: []string{"coordination"},
		Registry:     reg,
		Router:       rt,
		Transports:   captainTransports,
	})

	if err := worker.Start(ctx); err != nil {
		return err
	}
	if err := captain.Start(ctx); err != nil {
		return err
	}
	// Give fsnotify a beat to register both agents' sockets before routing.
	time.Sleep(200 * time.Millisecond)

	fmt.Println("\n=== Step 1: Direct Message ===")
	msgID, err := captain.SendMessage(ctx, workerID, "kickoff", "starting analytics dashboard build", false)
	if err != nil {
		fmt.Printf("  send_message failed: %v\n", err)
	} else {
		fmt.Printf("  sent message %s to %s\n", msgID, workerID)
	}

	fmt.Println("\n=== Step 2: Blocking Task Delegation ===")
	tc, err := captain.DelegateTask(ctx, workerID, "task-data-pipeline",
		"Build ETL pipeline: extract, transform, load to analytics DB",
		envelope.PriorityHigh, 30*time.Second,
		[]string{"python", "data_analysis"}, true)
	if err != nil {
		fmt.Printf("  delegate_task failed: %v\n", err)
	} else {
		fmt.Printf("  completion: status=%s message=%q\n", tc.Status, tc.Message)
	}

	fmt.Println("\n=== Step 3: Veto-Capable Voting Proposal ===")
	result, err := captain.CreateVotingProposal(ctx, envelope.VotingProposal{
		CaptainID: captainID, ProposalID: "vote-deploy-prod",
		Subject: "Deploy dashboard to production",
		Options: []envelope.VotingOption{{ID: "yes", Title: "Deploy now"}, {ID: "no", Title: "Hold"}},
		VotingType:     envelope.VotingVetoCapable,
		EligibleVoters: []string{workerID},
	}, 5*time.Second)
	if err != nil {
		fmt.Printf("  voting did not resolve cleanly: %v (partial: %v)\n", err, result)
	} else {
		fmt.Printf("  resolved: %v\n", result)
	}

	fmt.Println("\n=== Step 4: Capability Request + Market Ranking ===")
	responses, err := captain.RequestCapability(ctx, []string{"go", "testing"}, "need someone to build the API backend", envelope.UrgencyNormal, 2*time.Second)
	if err != nil {
		fmt.Printf("  request_capability failed: %v\n", err)
	}
	// workerID's score reflects Step 2's real completion rather than a
	// guess: ledger.RecordReputation already folded that TaskCompletion in
	// via TrustHandler, so this reads whatever it actually computed.
	trustMap := map[string]float64{workerID: ledger.ComputeTrustScore(workerID)}
	ranked := market.RankResponses(responses, market.DefaultWeights(), trustMap, []string{"go", "testing"})
	for i, sr := range ranked {
		fmt.Printf("  #%d: %s score=%.3f trust=%.2f cap=%.2f avail=%.2f\n",
			i+1, sr.Response.RespondingAgent, sr.Score, sr.TrustScore, sr.CapMatchScore, sr.AvailabilityScore)
	}

	fmt.Println("\n=== Step 5: Delegation Capability Tokens ===")
	dct := security.MintDCT(captainID, workerID, "analytics-db", 8*time.Hour,
		security.Caveat{Type: "operation", Key: "ops", Value: "read,execute"},
		security.Caveat{Type: "scope", Key: "tables", Value: "raw_events"},
	)
	fmt.Printf("  minted %s bearer=%s resource=%s expires=%v\n", dct.TokenID, dct.BearerID, dct.Resource, dct.ExpiresAt)
	child, err := dct.Attenuate("agent-sub-worker-01",
		security.Caveat{Type: "operation", Key: "ops", Value: "read"},
		security.Caveat{Type: "scope", Key: "tables", Value: "raw_events/2026"},
	)
	if err != nil {
		fmt.Printf("  attenuate failed: %v\n", err)
	} else {
		fmt.Printf("  attenuated child %s (read-only, scoped to 2026)\n", child.TokenID)
	}
	if err := dct.ValidateAccess("write", "raw_events"); err != nil {
		fmt.Printf("  access denied (expected): %v\n", err)
	}

	fmt.Println("\n=== Step 6: Declarative Job Run ===")
	if err := runDemoJob(ctx, cfg); err != nil {
		fmt.Printf("  job run failed: %v\n", err)
	}

	fmt.Println("\n=== Step 7: Job IPC Adapter ===")
	if err := demoJobIPC(ctx, cfg, captainTransports[transport.KindUnixSocket]); err != nil {
		fmt.Printf("  job ipc demo failed: %v\n", err)
	}

	fmt.Println("\n=== Step 8: Security Screening ===")
	warnings := security.ScreenTask(envelope.TaskDelegation{
		CaptainID: captainID, WorkerID: "agent-unknown", TaskID: "task-suspicious",
		Priority: envelope.PriorityCritical, RequiredCapabilities: make([]string, 12),
	})
	for _, w := range warnings {
		fmt.Printf("  WARNING: %s\n", w)
	}
	cb := security.NewCircuitBreaker("agent-flaky-01", 3, 0.4)
	cb.RecordFailure()
	cb.RecordFailure()
	tripped := cb.RecordFailure()
	fmt.Printf("  circuit breaker tripped=%v state=%s allowed=%v\n", tripped, cb.State, cb.IsAllowed())

	fmt.Println("\n=== Demo Complete ===")
	worker.Stop()
	captain.Stop()
	return nil
}

func buildTransports(cfg config.Config) (map[transport.Kind]transport.Transport, error) {
	transports := map[transport.Kind]transport.Transport{}

	unix := transport.NewUnixSocketDriver(cfg.SocketDir)
	if err := unix.Connect(context.Background()); err != nil {
		return nil, err
	}
	transports[transport.KindUnixSocket] = unix

	if cfg.RedisURL != "" {
		r := transport.NewRedisDriver(cfg.RedisURL)
		if err := r.Connect(context.Background()); err == nil {
			transports[transport.KindRedis] = r
		} else {
			log.Warn().Err(err).Msg("redis unavailable, continuing without it")
		}
	}
	if cfg.NatsURL != "" {
		n := transport.NewNatsDriver(cfg.NatsURL)
		if err := n.Connect(context.Background()); err == nil {
			transports[transport.KindNATS] = n
		} else {
			log.Warn().Err(err).Msg("nats unavailable, continuing without it")
		}
	}
	if cfg.MqttBrokerURL != "" {
		m := transport.NewMqttDriver(cfg.MqttBrokerURL, "acsdemo-"+cfg.AgentID)
		if err := m.Connect(context.Background()); err == nil {
			transports[transport.KindMQTT] = m
		} else {
			log.Warn().Err(err).Msg("mqtt unavailable, continuing without it")
		}
	}

	return transports, nil
}

// jobRunningWorker stands in for the "worker executes the task" half the
// teacher's main.go leaves implicit (it only scores and accepts bids, never
// actually runs anything). Accept logs the delegation and returns a fixed
// successful TaskCompletion; it does not run the task through a
// job.Orchestrator (Step 6 is where the demo exercises C6).
type jobRunningWorker struct {
	worker *coordinator.Coordinator
}

func (w *jobRunningWorker) Accept(ctx context.Context, td envelope.TaskDelegation) (envelope.TaskCompletion, error) {
	log.Info().Str("task_id", td.TaskID).Str("description", td.Description).Msg("worker accepted delegation, executing")
	return envelope.TaskCompletion{
		WorkerID: td.WorkerID, CaptainID: td.CaptainID, TaskID: td.TaskID,
		Status: envelope.TaskSuccess, Message: "pipeline build complete", Result: "42 tests passing, 89% coverage",
	}, nil
}

func runDemoJob(ctx context.Context, cfg config.Config) error {
	jobCfg := &job.Config{
		Description: "demo pipeline build",
		Exec:        job.DefaultExecutionConfig(),
		Steps: []job.Step{
			{Name: "extract", Task: job.Task{Kind: job.TaskBash, Command: "echo extracting"}},
			{Name: "transform", Task: job.Task{Kind: job.TaskBash, Command: "echo transforming"}, DependsOn: []string{"extract"}},
			{Name: "load", Task: job.Task{Kind: job.TaskBash, Command: "echo loading"}, DependsOn: []string{"transform"}},
		},
	}
	jobCfg.Exec.CheckpointMode = job.CheckpointOff // no git repo backs this demo's job dir

	store := job.NewStore(cfg.JobStateDir)
	orch := job.NewOrchestrator(store, nil, nil)

	state, err := orch.Run(ctx, "demo-pipeline", jobCfg, job.RunOptions{})
	if err != nil {
		return err
	}
	fmt.Printf("  run %s status=%s progress=%.0f%%\n", state.RunID, state.Status, state.ProgressPercent())
	return nil
}

// staticLoader serves the one demo job definition used in Step 7.
type staticLoader struct{ cfg *job.Config }

func (l staticLoader) Load(jobName string) (*job.Config, error) { return l.cfg, nil }

func demoJobIPC(ctx context.Context, cfg config.Config, tr transport.Transport) error {
	jobCfg := &job.Config{
		Exec:  job.DefaultExecutionConfig(),
		Steps: []job.Step{{Name: "only-step", Task: job.Task{Kind: job.TaskBash, Command: "echo hello from job ipc"}}},
	}
	jobCfg.Exec.CheckpointMode = job.CheckpointOff

	store := job.NewStore(cfg.JobStateDir)
	orch := job.NewOrchestrator(store, nil, nil)
	listener := jobipc.New(tr, store, orch, staticLoader{cfg: jobCfg}, "agent-orchestrator-01")

	if err := listener.Start(ctx); err != nil {
		return err
	}

	statusCh, err := tr.Subscribe(ctx, transport.ChannelJobStatus)
	if err != nil {
		return err
	}

	// Job IPC commands aren't part of the core dispatch Kind enum (the job
	// channel is deliberately opaque to Coordinator.dispatch); KindDirectMessage
	// is reused purely as a generic envelope wrapper here since Listener.handle
	// decodes the payload itself regardless of Kind.
	cmd := jobipc.Command{Verb: "run", JobName: "ipc-demo-job"}
	env, err := envelope.New(envelope.KindDirectMessage, "acsdemo-cli", cmd)
	if err != nil {
		return err
	}
	if err := tr.Publish(ctx, transport.ChannelJob, env); err != nil {
		return err
	}

	select {
	case msg := <-statusCh:
		var payload map[string]interface{}
		_ = msg.Envelope.Decode(&payload)
		fmt.Printf("  job ipc reply: %v\n", payload)
	case <-time.After(5 * time.Second):
		fmt.Println("  job ipc reply timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
