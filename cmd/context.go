package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

const configFileName = "kinsync"

// Context holds the defaults the CLI uses when talking to the local sync
// api: the server address and the journal user it acts as.
type Context struct {
	Server string `json:"server"`
	UserID uint   `json:"user_id"`
}

func writeContext(context Context) {
	viper.SetConfigName(configFileName)
	viper.AddConfigPath("./.tmp")
	viper.SetConfigType("yml")
	viper.Set("context", context)

	if err := viper.WriteConfig(); err != nil {
		fmt.Println("error writing config file: ", err)
	}
}

func readContext() Context {
	var ctx Context

	// create file if it doesn't exist
	if _, err := os.Stat("./.tmp/" + configFileName + ".yml"); os.IsNotExist(err) {
		if err := os.MkdirAll("./.tmp", 0o755); err != nil {
			fmt.Println("error creating config dir: ", err)
			return ctx
		}
		file, err := os.Create("./.tmp/" + configFileName + ".yml")
		if err != nil {
			fmt.Println("error creating config file: ", err)
		}
		err = file.Close()
		if err != nil {
			panic(err)
		}
	}

	viper.SetConfigName(configFileName)
	viper.AddConfigPath("./.tmp")
	viper.SetConfigType("yml")

	if err := viper.ReadInConfig(); err != nil {
		fmt.Println("error reading config file: ", err)
	}

	if err := viper.UnmarshalKey("context", &ctx); err != nil {
		fmt.Println("error unmarshalling config file: ", err)
	}

	if ctx.Server == "" {
		ctx.Server = "http://localhost:4030"
	}
	if ctx.UserID == 0 {
		ctx.UserID = 1
	}

	return ctx
}
