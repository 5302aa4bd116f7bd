package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	gateway "github.com/streamplace/oauth-gateway"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name: "OAuth Gateway Helper",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				EnvVars: []string{"GATEWAY_ENV_FILE"},
			},
		},
		Commands: []*cli.Command{
			runAuthorizeUrl,
			runCheckConfig,
		},
	}

	app.RunAndExitOnError()
}

func loadConfig(cmd *cli.Context) (*gateway.Config, error) {
	if ef := cmd.String("env-file"); ef != "" {
		if err := godotenv.Load(ef); err != nil {
			return nil, err
		}
	}

	return gateway.LoadConfig(nil)
}

var runAuthorizeUrl = &cli.Command{
	Name:  "authorize-url",
	Usage: "print the url / redirects to",
	Action: func(cmd *cli.Context) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		gw, err := gateway.NewGateway(cfg, nil, nil)
		if err != nil {
			return err
		}

		fmt.Println(gw.AuthorizeURL())

		return nil
	},
}

var runCheckConfig = &cli.Command{
	Name:  "check-config",
	Usage: "validate the configuration and print a summary",
	Action: func(cmd *cli.Context) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		gateway.WriteConfigSummary(os.Stdout, cfg)

		return nil
	},
}
