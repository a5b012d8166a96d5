package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "zkfold", cmd.Use)
	assert.Contains(t, cmd.Long, "replays and reverts")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{
		"init", "ingest", "run", "publish", "status", "timeline", "thread",
		"whois", "chats", "users", "members", "rebuild", "scenario",
	}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "zkfold.yaml", configFlag.DefValue)
}

func TestTimelineCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	timelineCmd, _, err := cmd.Find([]string{"timeline"})
	require.NoError(t, err)

	limitFlag := timelineCmd.Flags().Lookup("limit")
	require.NotNil(t, limitFlag)
	assert.Equal(t, "20", limitFlag.DefValue)

	for _, name := range []string{"offset", "user", "group"} {
		assert.NotNil(t, timelineCmd.Flags().Lookup(name), name)
	}
}

func TestRunCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	runCmd, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)

	onceFlag := runCmd.Flags().Lookup("once")
	require.NotNil(t, onceFlag)
	assert.Equal(t, "false", onceFlag.DefValue)
}

func TestUsersSubcommands(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"list", "import"} {
		sub, _, err := cmd.Find([]string{"users", name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
}

func TestExecute_InvalidFormat(t *testing.T) {
	code, _, stderr := execute(t, "--format", "xml", "status")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, `invalid format "xml"`)
}

func TestExecute_MissingExplicitConfig(t *testing.T) {
	code, stdout, _ := execute(t, "--format", "json", "--config", t.TempDir()+"/nope.yaml", "status")
	assert.Equal(t, ExitCommandError, code)

	resp := decodeResponse(t, stdout, nil)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ExitCommandError, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "failed to load config")
}
