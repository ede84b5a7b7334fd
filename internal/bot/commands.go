package bot

import (
	"strings"
)

// CommandKind — закрытый список команд бота.
type CommandKind int

const (
	CmdUnknown CommandKind = iota
	CmdHelp
	CmdPing
	CmdClaimTokens
	CmdGiftTokens
	CmdCheckTokens
	CmdCheckPenalties
	CmdStatus
	CmdReserve
	CmdRelease
	CmdCancel
	CmdComplete
	CmdRewardTokens
	CmdRewardStar
	CmdCheckUser
	CmdUserLog
	CmdRequestLog
	CmdSystemLog
	CmdSetTokens
	CmdSetStars
	CmdSetMapperUpvotes
	CmdSetCriticUpvotes
	CmdSetPenalties
	CmdLeaderboard
	CmdResetLeaderboards
	CmdResetClaims
	CmdSetRole
	CmdRoles
	CmdLogin
	CmdLogout
)

var commandNames = map[string]CommandKind{
	"help":              CmdHelp,
	"start":             CmdHelp,
	"ping":              CmdPing,
	"claimtokens":       CmdClaimTokens,
	"gifttokens":        CmdGiftTokens,
	"checktokens":       CmdCheckTokens,
	"checkpenalties":    CmdCheckPenalties,
	"status":            CmdStatus,
	"reserve":           CmdReserve,
	"release":           CmdRelease,
	"cancel":            CmdCancel,
	"complete":          CmdComplete,
	"rewardtokens":      CmdRewardTokens,
	"rewardstar":        CmdRewardStar,
	"checkuser":         CmdCheckUser,
	"userlog":           CmdUserLog,
	"requestlog":        CmdRequestLog,
	"systemlog":         CmdSystemLog,
	"settokens":         CmdSetTokens,
	"setstars":          CmdSetStars,
	"setmapperupvotes":  CmdSetMapperUpvotes,
	"setcriticupvotes":  CmdSetCriticUpvotes,
	"setpenalties":      CmdSetPenalties,
	"leaderboard":       CmdLeaderboard,
	"resetleaderboards": CmdResetLeaderboards,
	"resetclaims":       CmdResetClaims,
	"setrole":           CmdSetRole,
	"roles":             CmdRoles,
	"login":             CmdLogin,
	"logout":            CmdLogout,
}

var kindNames = func() map[CommandKind]string {
	m := make(map[CommandKind]string, len(commandNames))
	for name, kind := range commandNames {
		if name != "start" {
			m[kind] = name
		}
	}
	return m
}()

func (k CommandKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// CommandParser разбирает команды с префиксами /, ! и .
type CommandParser struct {
	validPrefixes []string
}

// NewCommandParser создаёт парсер команд.
func NewCommandParser() *CommandParser {
	return &CommandParser{
		validPrefixes: []string{"/", "!", "."},
	}
}

// ParseCommand разбирает текст на команду и аргументы. isCommand=false —
// это не команда; kind=CmdUnknown — команда, но не наша.
// Суффикс "@BotName" у команды отбрасывается.
func (p *CommandParser) ParseCommand(text string) (kind CommandKind, args []string, isCommand bool) {
	text = strings.TrimSpace(text)

	hasPrefix := false
	for _, prefix := range p.validPrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimPrefix(text, prefix)
			hasPrefix = true
			break
		}
	}
	if !hasPrefix {
		return CmdUnknown, nil, false
	}

	parts := strings.Fields(text)
	if len(parts) == 0 {
		return CmdUnknown, nil, false
	}

	name := strings.ToLower(parts[0])
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if len(parts) > 1 {
		args = parts[1:]
	}
	return commandNames[name], args, true
}
