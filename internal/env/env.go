package env

import (
	"log"

	"github.com/vrischmann/envconfig"
)

type Environment struct {
	Debug bool `envconfig:"default=false"`

	AWSRegion        string `envconfig:"FIXTURES_AWS_REGION,default=us-east-1"`
	DynamoDBEndpoint string `envconfig:"FIXTURES_DYNAMODB_ENDPOINT,optional"`
	RedisAddr        string `envconfig:"FIXTURES_REDIS_ADDR,optional"`
}

var env *Environment

func init() {
	env = &Environment{}
	if err := envconfig.Init(env); err != nil {
		log.Fatal(err)
	}
}

func Get() *Environment {
	return env
}
