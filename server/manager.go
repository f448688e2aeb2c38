package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/gammadia/standby/lifecycle"
	"github.com/gammadia/standby/provisioner/local"
	"github.com/gammadia/standby/provisioner/openstack"
	"github.com/gammadia/standby/provisioner/remote"
	"github.com/gammadia/standby/server/flags"
	"github.com/gammadia/standby/server/log"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

var manager *lifecycle.Manager

// closeProvisioner releases whatever the provisioner holds on to, if anything
var closeProvisioner = func() error { return nil }

func createManager() error {
	provisioner, err := createProvisioner()
	if err != nil {
		return fmt.Errorf("unable to create provisioner '%s': %w", viper.GetString(flags.Provisioner), err)
	}
	if closer, ok := provisioner.(io.Closer); ok {
		closeProvisioner = closer.Close
	}

	config := lifecycle.Config{
		Logger:       log.Component("lifecycle"),
		IdleTimeout:  viper.GetDuration(flags.IdleTimeout),
		MaxQueueWait: viper.GetDuration(flags.MaxQueueWait),
		PollInterval: viper.GetDuration(flags.PollInterval),
		DrainTimeout: viper.GetDuration(flags.DrainTimeout),
	}
	if err := lifecycle.Validate(config); err != nil {
		return fmt.Errorf("invalid lifecycle config: %w", err)
	}
	log.Debug("Lifecycle config", "config", string(lo.Must(json.Marshal(config))))

	manager = lifecycle.New(provisioner, config)
	log.Info("Manager created", "manager", manager.Name(), "provisioner", viper.GetString(flags.Provisioner))
	return nil
}

func createProvisioner() (lifecycle.Provisioner, error) {
	logger := log.Component("provisioner")
	switch p := viper.GetString(flags.Provisioner); p {
	case "remote":
		config := remote.Config{
			Logger:      logger,
			Endpoint:    viper.GetString(flags.RemoteEndpoint),
			APIKey:      viper.GetString(flags.RemoteAPIKey),
			MaxAttempts: viper.GetInt(flags.RemoteMaxAttempts),
			Timeout:     viper.GetDuration(flags.RemoteTimeout),
			RateLimit:   viper.GetFloat64(flags.RemoteRateLimit),
		}
		logger.Debug("Provisioner config", "provisioner", p, "config", string(lo.Must(json.Marshal(config))))
		return remote.NewProvisioner(config)

	case "local":
		config := local.Config{
			Logger:        logger,
			ContainerPort: viper.GetInt(flags.LocalContainerPort),
			HostAddress:   viper.GetString(flags.LocalHostAddress),
		}
		logger.Debug("Provisioner config", "provisioner", p, "config", string(lo.Must(json.Marshal(config))))
		return local.NewProvisioner(config)

	case "openstack":
		config := openstack.Config{
			Logger:    logger,
			Image:     viper.GetString(flags.OpenstackImage),
			Flavor:    viper.GetString(flags.OpenstackFlavor),
			GPUFlavor: viper.GetString(flags.OpenstackGPUFlavor),
			Networks: lo.Map(
				viper.GetStringSlice(flags.OpenstackNetworks),
				func(s string, _ int) servers.Network {
					return servers.Network{UUID: s}
				},
			),
			SecurityGroups: viper.GetStringSlice(flags.OpenstackSecurityGroups),
			SSHUsername:    viper.GetString(flags.OpenstackSshUsername),
			DockerHost:     viper.GetString(flags.OpenstackDockerHost),
			ContainerPort:  viper.GetInt(flags.OpenstackContainerPort),
			ServerTimeout:  viper.GetDuration(flags.OpenstackServerTimeout),
		}
		logger.Debug("Provisioner config", "provisioner", p, "config", string(lo.Must(json.Marshal(config))))
		return openstack.NewProvisioner(config)

	default:
		return nil, fmt.Errorf("unknown provisioner")
	}
}
