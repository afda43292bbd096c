package login

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rscore/rs530/internal/authsvc"
	"github.com/rscore/rs530/internal/buffer"
	"github.com/rscore/rs530/internal/playerstore"
)

func buildLoginBody(t *testing.T, revision uint32, username, password string) []byte {
	t.Helper()

	rsaBody := buffer.New(32)
	rsaBody.WriteUByte(10)
	rsaBody.WriteUInt(1)
	rsaBody.WriteUInt(2)
	rsaBody.WriteUInt(3)
	rsaBody.WriteUInt(4)
	rsaBody.WriteUInt(9999)
	rsaBody.WriteStringJagex(username)
	rsaBody.WriteStringJagex(password)
	rsaBytes := rsaBody.Bytes()

	body := buffer.New(64)
	body.WriteUInt(revision)
	body.WriteUByte(0)
	body.WriteUShort(uint16(len(rsaBytes)))
	body.WriteBytes(rsaBytes)
	return body.Bytes()
}

func TestParseLoginTypeKnownValues(t *testing.T) {
	lt, ok := ParseLoginType(16)
	require.True(t, ok)
	require.Equal(t, LoginTypeNormal, lt)

	lt, ok = ParseLoginType(18)
	require.True(t, ok)
	require.Equal(t, LoginTypeReconnect, lt)

	_, ok = ParseLoginType(99)
	require.False(t, ok)
}

func TestParserParsesPlaintextLoginBlock(t *testing.T) {
	parser := NewParser(530, nil)
	body := buildLoginBody(t, 530, "zezima", "hunter2")

	block, err := parser.Parse(LoginTypeNormal, body)
	require.NoError(t, err)
	require.Equal(t, uint32(530), block.Revision)
	require.Equal(t, "zezima", block.Username)
	require.Equal(t, "hunter2", block.Password)
	require.Equal(t, uint32(9999), block.UID)
	require.Equal(t, [4]uint32{1, 2, 3, 4}, block.ISAACSeeds)
}

func TestParserRevisionMismatchMapsToGameUpdated(t *testing.T) {
	parser := NewParser(530, nil)
	body := buildLoginBody(t, 531, "zezima", "hunter2")

	_, err := parser.Parse(LoginTypeNormal, body)
	require.Error(t, err)
	require.Equal(t, LoginResponseGameUpdated, ResponseForAuthError(err))
}

func TestRunLoginSuccessBuildsInitSequence(t *testing.T) {
	svc := authsvc.NewInMemory(map[string]string{"zezima": "hunter2"}, 10)
	store := playerstore.NewInMemory()

	resp, initializer, err := RunLogin(context.Background(), svc, store, Block{Username: "zezima", Password: "hunter2"})
	require.NoError(t, err)
	require.NotNil(t, initializer)
	require.Equal(t, byte(LoginResponseSuccess), resp[0])
	require.Greater(t, initializer.PacketCount(), 10)

	packets := initializer.Encode(nil)
	require.Equal(t, byte(opMapRegion), packets[0][0])

	skillPackets := 0
	for _, p := range packets {
		if p[0] == byte(opSkillUpdate) {
			skillPackets++
		}
	}
	require.Equal(t, 25, skillPackets)
}

func TestRunLoginInvalidCredentialsReturnsErrorResponse(t *testing.T) {
	svc := authsvc.NewInMemory(map[string]string{"zezima": "hunter2"}, 10)
	store := playerstore.NewInMemory()

	resp, initializer, err := RunLogin(context.Background(), svc, store, Block{Username: "zezima", Password: "wrong"})
	require.NoError(t, err)
	require.Nil(t, initializer)
	require.Equal(t, []byte{byte(LoginResponseInvalidCredentials)}, resp)
}

func TestUsernameToHashIsCaseInsensitiveForAscii(t *testing.T) {
	require.Equal(t, usernameToHash("ZEZIMA"), usernameToHash("zezima"))
	require.NotEqual(t, usernameToHash("zezima"), usernameToHash("zezimb"))
}

func TestAdminGetsExtraWelcomeMessage(t *testing.T) {
	initializer := NewInitializer()
	initializer.Build(InitialPlayerState{Rights: 2, Skills: playerstore.DefaultSkills()})
	packets := initializer.Encode(nil)

	messages := 0
	for _, p := range packets {
		if p[0] == byte(opSystemMessage) {
			messages++
		}
	}
	require.Equal(t, 2, messages)
}
