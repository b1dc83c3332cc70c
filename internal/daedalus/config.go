// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package daedalus

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/sapcc/go-api-declarations/bininfo"
	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/must"
	"github.com/sapcc/go-bits/osext"
)

// GetDatabaseURLFromEnvironment reads the DAEDALUS_DB_* environment variables.
func GetDatabaseURLFromEnvironment() (dbURL url.URL, dbName string) {
	dbName = osext.GetenvOrDefault("DAEDALUS_DB_NAME", "daedalus")
	return must.Return(easypg.URLFrom(easypg.URLParts{
		HostName:          osext.GetenvOrDefault("DAEDALUS_DB_HOSTNAME", "localhost"),
		Port:              osext.GetenvOrDefault("DAEDALUS_DB_PORT", "5432"),
		UserName:          osext.GetenvOrDefault("DAEDALUS_DB_USERNAME", "postgres"),
		Password:          os.Getenv("DAEDALUS_DB_PASSWORD"),
		ConnectionOptions: os.Getenv("DAEDALUS_DB_CONNECTION_OPTIONS"),
		DatabaseName:      dbName,
	})), dbName
}

// GetRedisOptions returns a redis.Options by getting the required parameters
// from environment variables:
//
//	<prefix>_REDIS_PASSWORD, <prefix>_REDIS_HOSTNAME, <prefix>_REDIS_PORT, <prefix>_REDIS_DB_NUM.
func GetRedisOptions(prefix string) (*redis.Options, error) {
	pass := os.Getenv(prefix + "_REDIS_PASSWORD")
	host := osext.GetenvOrDefault(prefix+"_REDIS_HOSTNAME", "localhost")
	port := osext.GetenvOrDefault(prefix+"_REDIS_PORT", "6379")
	dbNum := osext.GetenvOrDefault(prefix+"_REDIS_DB_NUM", "0")
	db, err := strconv.Atoi(dbNum)
	if err != nil {
		return nil, fmt.Errorf("invalid value for %s: %q", prefix+"_REDIS_DB_NUM", dbNum)
	}

	return &redis.Options{
		Network:    "tcp",
		Password:   pass,
		Addr:       net.JoinHostPort(host, port),
		ClientName: bininfo.Component(),
		DB:         db,
	}, nil
}
