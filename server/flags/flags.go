package flags

import (
	"strings"
	"time"

	"github.com/gammadia/standby/lifecycle"
	"github.com/gammadia/standby/provisioner/local"
	"github.com/gammadia/standby/provisioner/openstack"
	"github.com/gammadia/standby/provisioner/remote"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	LogFormat       = "log-format"
	LogLevel        = "log-level"
	LogSource       = "log-source"
	Listen          = "listen"
	ShutdownTimeout = "shutdown-timeout"

	IdleTimeout  = "idle-timeout"
	MaxQueueWait = "max-queue-wait"
	PollInterval = "poll-interval"
	DrainTimeout = "drain-timeout"

	CatalogFile   = "catalog-file"
	EtcdEndpoints = "etcd-endpoints"
	EtcdPrefix    = "etcd-prefix"

	Provisioner = "provisioner"

	RemoteEndpoint    = "remote-endpoint"
	RemoteAPIKey      = "remote-api-key"
	RemoteMaxAttempts = "remote-max-attempts"
	RemoteTimeout     = "remote-timeout"
	RemoteRateLimit   = "remote-rate-limit"

	LocalContainerPort = "local-container-port"
	LocalHostAddress   = "local-host-address"

	OpenstackImage          = "openstack-image"
	OpenstackFlavor         = "openstack-flavor"
	OpenstackGPUFlavor      = "openstack-gpu-flavor"
	OpenstackNetworks       = "openstack-networks"
	OpenstackSecurityGroups = "openstack-security-groups"
	OpenstackSshUsername    = "openstack-ssh-username"
	OpenstackDockerHost     = "openstack-docker-host"
	OpenstackContainerPort  = "openstack-container-port"
	OpenstackServerTimeout  = "openstack-server-timeout"
)

// Init parses args and binds the resulting flags into viper. Every flag can
// also be set from a STANDBY_ prefixed environment variable.
func Init(name string, args []string) error {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)

	// Standby
	flags.String(LogFormat, "json", "log format (json, text)")
	flags.String(LogLevel, "INFO", "minimum log level")
	flags.Bool(LogSource, false, "add source code location to logs")
	flags.String(Listen, ":25380", "admin API listening address")
	flags.Duration(ShutdownTimeout, 2*time.Minute, "how long to wait for nodes to terminate on shutdown")

	// Lifecycle
	flags.Duration(IdleTimeout, 10*time.Minute, "how long a node may stay unused before being terminated")
	flags.Duration(MaxQueueWait, 5*time.Minute, "how long a request may wait for its node to become ready")
	flags.Duration(PollInterval, 30*time.Second, "how often idle nodes are checked")
	flags.Duration(DrainTimeout, lifecycle.DefaultDrainTimeout, "how long termination waits for in-flight requests")

	// Catalog
	flags.String(CatalogFile, "", "YAML file declaring the nodes to register at startup")
	flags.StringSlice(EtcdEndpoints, nil, "etcd endpoints to load and watch node declarations from")
	flags.String(EtcdPrefix, "/standby/nodes/", "etcd key prefix of node declarations")

	flags.String(Provisioner, "remote", "node provisioner to use (remote, local, openstack)")

	// Remote
	flags.String(RemoteEndpoint, "", "base URL of the provisioning service")
	flags.String(RemoteAPIKey, "", "API key of the provisioning service")
	flags.Int(RemoteMaxAttempts, remote.DefaultMaxAttempts, "maximum number of attempts per provisioning service call")
	flags.Duration(RemoteTimeout, remote.DefaultTimeout, "timeout of a single provisioning service call")
	flags.Float64(RemoteRateLimit, 0, "maximum provisioning service calls per second, 0 for no limit")

	// Local
	flags.Int(LocalContainerPort, local.DefaultContainerPort, "port node workloads listen on inside their container")
	flags.String(LocalHostAddress, local.DefaultHostAddress, "host address node containers are published on")

	// Openstack
	flags.String(OpenstackImage, "", "image to use for provisioning")
	flags.String(OpenstackFlavor, "", "flavor to use for provisioning")
	flags.String(OpenstackGPUFlavor, "", "flavor to use for gpu nodes")
	flags.StringSlice(OpenstackNetworks, nil, "networks attached to the nodes")
	flags.StringSlice(OpenstackSecurityGroups, nil, "security groups defined for the nodes")
	flags.String(OpenstackSshUsername, "", "ssh username used to connect to the nodes")
	flags.String(OpenstackDockerHost, openstack.DefaultDockerHost, "docker host on the nodes")
	flags.Int(OpenstackContainerPort, openstack.DefaultContainerPort, "port node workloads listen on inside their container")
	flags.Duration(OpenstackServerTimeout, openstack.DefaultServerTimeout, "how long a server may take to become active")

	// Init
	if err := flags.Parse(args); err != nil {
		return err
	}

	viper.SetEnvPrefix("standby")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	return viper.BindPFlags(flags)
}
