package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	suite.Suite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) writeConfig(content string) string {
	path := filepath.Join(suite.T().TempDir(), "muselink.yaml")
	suite.Require().NoError(os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (suite *ConfigTestSuite) TestLoadConfig() {
	// GOAL: Verify config loading layers file values over defaults
	//
	// TEST SCENARIO: Partial config file → unset fields keep defaults → set fields override

	suite.Run("full file", func() {
		path := suite.writeConfig(`
address: "00:11:22:33:44:55"
aux: true
format: yaml
response_timeout: 2s
connect_timeout: 10s
`)
		cfg, err := loadConfig(path)

		suite.Require().NoError(err)
		suite.Assert().Equal("00:11:22:33:44:55", cfg.Address)
		suite.Assert().True(cfg.Aux)
		suite.Assert().Equal("yaml", cfg.Format)
		suite.Assert().Equal(2*time.Second, cfg.ResponseTimeout)
		suite.Assert().Equal(10*time.Second, cfg.ConnectTimeout)
	})

	suite.Run("partial file keeps defaults", func() {
		path := suite.writeConfig(`address: "AA:BB:CC:DD:EE:FF"`)
		cfg, err := loadConfig(path)

		suite.Require().NoError(err)
		suite.Assert().Equal("AA:BB:CC:DD:EE:FF", cfg.Address)
		suite.Assert().False(cfg.Aux)
		suite.Assert().Equal("plain", cfg.Format, "unset format MUST keep its default")
		suite.Assert().Equal(5*time.Second, cfg.ResponseTimeout, "unset timeout MUST keep its default")
	})

	suite.Run("missing explicit file fails", func() {
		_, err := loadConfig(filepath.Join(suite.T().TempDir(), "nope.yaml"))
		suite.Assert().Error(err, "an explicitly named missing file MUST fail")
	})

	suite.Run("malformed yaml fails", func() {
		path := suite.writeConfig(`address: [not closed`)
		_, err := loadConfig(path)
		suite.Assert().Error(err)
	})

	suite.Run("invalid format rejected", func() {
		path := suite.writeConfig(`format: csv`)
		_, err := loadConfig(path)
		suite.Assert().Error(err, "unknown output format MUST be rejected at load time")
	})
}
