package muse_test

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/eegkit/muselink/internal/muse"
	"github.com/eegkit/muselink/internal/transport"
)

type ProtocolTestSuite struct {
	suite.Suite
}

func TestProtocolSuite(t *testing.T) {
	suite.Run(t, new(ProtocolTestSuite))
}

func (suite *ProtocolTestSuite) TestCharacteristicUUID() {
	// GOAL: Verify every logical channel maps to a characteristic
	//
	// TEST SCENARIO: Look up each channel → normalized UUID returned → unknown channel fails

	for _, channel := range []transport.ChannelID{
		transport.Control, transport.Telemetry, transport.Gyroscope, transport.Accelerometer,
		transport.Electrode0, transport.Electrode1, transport.Electrode2, transport.Electrode3, transport.Electrode4,
	} {
		uuid, err := muse.CharacteristicUUID(channel)
		suite.Require().NoError(err, "channel %s MUST have a characteristic", channel)
		suite.Assert().Len(uuid, 32, "UUID MUST be normalized 128-bit form")
		suite.Assert().Equal(muse.NormalizeUUID(uuid), uuid, "mapped UUID MUST already be normalized")
	}

	_, err := muse.CharacteristicUUID(transport.ChannelID(99))
	suite.Assert().Error(err, "unmapped channel MUST fail")
}

func (suite *ProtocolTestSuite) TestElectrodeChannels() {
	// GOAL: Verify electrode channel selection honors the aux flag
	//
	// TEST SCENARIO: With and without aux → four or five channels in electrode order

	withAux := muse.ElectrodeChannels(true)
	suite.Require().Len(withAux, 5, "aux preset MUST use five electrodes")
	suite.Assert().Equal(transport.Electrode0, withAux[0])
	suite.Assert().Equal(transport.Electrode4, withAux[4])

	noAux := muse.ElectrodeChannels(false)
	suite.Require().Len(noAux, 4, "default preset MUST use four electrodes")
	suite.Assert().Equal(transport.Electrode3, noAux[3])
}

func (suite *ProtocolTestSuite) TestNormalizeUUID() {
	// GOAL: Verify UUID normalization strips dashes and lowercases
	//
	// TEST SCENARIO: Dashed uppercase UUID → normalized form

	suite.Assert().Equal(
		"273e00014c4d454d96bef03bac821358",
		muse.NormalizeUUID("273E0001-4C4D-454D-96BE-F03BAC821358"),
	)
	suite.Assert().Equal("fe8d", muse.NormalizeUUID("FE8D"))
}
