/*
Package health provides liveness checks for the external system a connector
depends on: a Postgres host for pgsource, a broker list for kafkasource, an
Ethereum JSON-RPC endpoint for ethlog, an S3-compatible bucket for
objectstore. It answers one narrow question independent of whether the
engine itself is alive: is the thing the configured source talks to still
reachable right now.

# Architecture

	┌─────────────────────────────────────────────────────────────┐
	│                   Health Check System                       │
	└─────┬──────────────────────────────────────────────────────┘
	      │
	      ▼
	┌──────────────────────────────────────────────────────────────┐
	│                     Checker Interface                        │
	│  • Check(ctx) Result                                         │
	│  • Type() CheckType                                          │
	└────────┬─────────────────────────────────────────────────────┘
	         │
	    ┌────┴──────┬──────────┐
	    ▼           ▼          ▼
	┌────────┐  ┌──────┐  ┌────────┐
	│  HTTP  │  │ TCP  │  │  Exec  │
	│Checker │  │Checker│ │Checker │
	└────────┘  └──────┘  └────────┘
	     │          │          │
	     ▼          ▼          ▼
	  GET /     Dial host    Run a local
	  healthz     :port      diagnostic command

# Check Types

## HTTP Health Checks

HTTP checks request a URL and classify the response status:

	Check Type: HTTP
	Configuration:
	├── URL: e.g. an Ethereum RPC endpoint's base URL
	├── Method: GET, POST, HEAD
	├── Headers: custom HTTP headers
	├── Expected Status: 200-399 (configurable)
	└── Timeout: 10 seconds

## TCP Health Checks

TCP checks dial an address and report whether the connection succeeds —
the right check for a Postgres host:port or a Kafka broker address, where
there is no well-defined HTTP surface to probe.

	Check Type: TCP
	Configuration:
	├── Address: host:port
	└── Timeout: 5 seconds

## Exec Health Checks

Exec checks run a local command and report success by exit code — useful
for a CLI-based reachability probe (e.g. a locally installed `pg_isready`)
where no library call is wired up for the purpose.

# Status Tracking

Status counts consecutive failures against a Config's Retries threshold
before marking a dependency unhealthy, so a single transient failure does
not flip it; one successful check marks it healthy again:

	cfg := health.DefaultConfig()
	status := health.NewStatus()
	checker := health.NewTCPChecker("postgres:5432")

	for {
		result := checker.Check(ctx)
		status.Update(result, cfg)
		if !status.Healthy {
			log.Warn("source dependency unhealthy")
		}
		time.Sleep(cfg.Interval)
	}

See also:
  - pkg/metrics - engine throughput and latency metrics
  - cmd/dagflow - runs a fresh check per request and serves its Result as JSON on /healthz
*/
package health
