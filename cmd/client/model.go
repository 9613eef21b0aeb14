package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/catherinesyeh/cs262-chat/pkg/client"
	"github.com/catherinesyeh/cs262-chat/pkg/protocol"
)

type screen int

const (
	screenLogin screen = iota
	screenChat
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	senderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Messages produced by background commands.
type (
	authResultMsg struct {
		ok     bool
		unread uint16
		detail string
	}
	linesMsg  []string
	pushedMsg protocol.DeliveredMessage
	errMsg    struct{ err error }
)

type model struct {
	c      *client.Client
	pushCh chan protocol.DeliveredMessage

	screen   screen
	register bool

	username textinput.Model
	password textinput.Model
	focus    int

	input  textinput.Model
	lines  []string
	status string

	width, height int
}

func newModel(c *client.Client, pushCh chan protocol.DeliveredMessage) model {
	username := textinput.New()
	username.Placeholder = "username"
	username.Focus()

	password := textinput.New()
	password.Placeholder = "password"
	password.EchoMode = textinput.EchoPassword

	input := textinput.New()
	input.Placeholder = "/msg <user> <text>  ·  /list  ·  /fetch  ·  /help"

	return model{
		c:        c,
		pushCh:   pushCh,
		screen:   screenLogin,
		username: username,
		password: password,
		input:    input,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitForPush())
}

func (m model) waitForPush() tea.Cmd {
	return func() tea.Msg {
		return pushedMsg(<-m.pushCh)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case pushedMsg:
		m.lines = append(m.lines, fmt.Sprintf("%s %s", senderStyle.Render(msg.Sender+":"), msg.Message))
		return m, m.waitForPush()

	case authResultMsg:
		if msg.ok {
			m.screen = screenChat
			m.status = msg.detail
			m.username.Blur()
			m.password.Blur()
			return m, m.input.Focus()
		}
		m.status = errorStyle.Render(msg.detail)
		return m, nil

	case linesMsg:
		m.lines = append(m.lines, msg...)
		return m, nil

	case errMsg:
		m.lines = append(m.lines, errorStyle.Render(msg.err.Error()))
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		}
		if m.screen == screenLogin {
			return m.updateLogin(msg)
		}
		return m.updateChat(msg)
	}
	return m, nil
}

func (m model) updateLogin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "tab", "shift+tab":
		m.focus = 1 - m.focus
		if m.focus == 0 {
			m.password.Blur()
			return m, m.username.Focus()
		}
		m.username.Blur()
		return m, m.password.Focus()

	case "ctrl+r":
		m.register = !m.register
		return m, nil

	case "enter":
		username := strings.TrimSpace(m.username.Value())
		password := m.password.Value()
		if username == "" || password == "" {
			m.status = errorStyle.Render("username and password are required")
			return m, nil
		}
		register := m.register
		return m, func() tea.Msg {
			if register {
				ok, err := m.c.CreateAccount(username, password)
				if err != nil {
					return authResultMsg{detail: err.Error()}
				}
				if !ok {
					return authResultMsg{detail: "username already taken"}
				}
				return authResultMsg{ok: true, detail: fmt.Sprintf("account %q created", username)}
			}
			unread, ok, err := m.c.Login(username, password)
			if err != nil {
				return authResultMsg{detail: err.Error()}
			}
			if !ok {
				return authResultMsg{detail: "invalid username or password"}
			}
			return authResultMsg{ok: true, unread: unread,
				detail: fmt.Sprintf("logged in as %q, %d unread message(s); /fetch to read", username, unread)}
		}
	}

	var cmd tea.Cmd
	if m.focus == 0 {
		m.username, cmd = m.username.Update(msg)
	} else {
		m.password, cmd = m.password.Update(msg)
	}
	return m, cmd
}

func (m model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "enter" {
		line := strings.TrimSpace(m.input.Value())
		m.input.SetValue("")
		if line == "" {
			return m, nil
		}
		return m, m.runCommand(line)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) runCommand(line string) tea.Cmd {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return tea.Quit

	case "/help":
		return func() tea.Msg {
			return linesMsg{helpStyle.Render(
				"/msg <user> <text>   send a message\n" +
					"/list [filter]       list accounts\n" +
					"/fetch               fetch queued messages\n" +
					"/delete <id,id,...>  delete messages (all or nothing)\n" +
					"/delaccount          delete this account\n" +
					"/quit                exit")}
		}

	case "/msg":
		if len(fields) < 3 {
			return reportf("usage: /msg <user> <text>")
		}
		recipient := fields[1]
		body := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line, "/msg"), " "+recipient))
		return func() tea.Msg {
			id, err := m.c.Send(recipient, body)
			if err != nil {
				return errMsg{err}
			}
			return linesMsg{fmt.Sprintf("→ %s: %s %s", recipient, body, statusStyle.Render(fmt.Sprintf("(#%d)", id)))}
		}

	case "/list":
		filter := ""
		if len(fields) > 1 {
			filter = fields[1]
		}
		return func() tea.Msg {
			accounts, err := m.c.ListAccounts(50, 0, filter)
			if err != nil {
				return errMsg{err}
			}
			lines := make(linesMsg, 0, len(accounts)+1)
			lines = append(lines, statusStyle.Render(fmt.Sprintf("%d account(s):", len(accounts))))
			for _, acct := range accounts {
				lines = append(lines, fmt.Sprintf("  #%d %s", acct.ID, acct.Username))
			}
			return lines
		}

	case "/fetch":
		return func() tea.Msg {
			messages, err := m.c.FetchMessages(50)
			if err != nil {
				return errMsg{err}
			}
			if len(messages) == 0 {
				return linesMsg{statusStyle.Render("no new messages")}
			}
			lines := make(linesMsg, 0, len(messages))
			for _, msg := range messages {
				lines = append(lines, fmt.Sprintf("%s %s %s",
					senderStyle.Render(msg.Sender+":"), msg.Message, statusStyle.Render(fmt.Sprintf("(#%d)", msg.ID))))
			}
			return lines
		}

	case "/delete":
		if len(fields) < 2 {
			return reportf("usage: /delete <id,id,...>")
		}
		var ids []uint32
		for _, part := range strings.Split(fields[1], ",") {
			id, err := strconv.ParseUint(part, 10, 32)
			if err != nil {
				return reportf("invalid message id %q", part)
			}
			ids = append(ids, uint32(id))
		}
		return func() tea.Msg {
			ok, err := m.c.DeleteMessages(ids)
			if err != nil {
				return errMsg{err}
			}
			if !ok {
				return linesMsg{errorStyle.Render("deletion rejected; no messages were deleted")}
			}
			return linesMsg{statusStyle.Render(fmt.Sprintf("deleted %d message(s)", len(ids)))}
		}

	case "/delaccount":
		return func() tea.Msg {
			if err := m.c.DeleteAccount(); err != nil {
				return errMsg{err}
			}
			return tea.Quit()
		}

	default:
		return reportf("unknown command %q, see /help", fields[0])
	}
}

func reportf(format string, args ...interface{}) tea.Cmd {
	return func() tea.Msg {
		return linesMsg{errorStyle.Render(fmt.Sprintf(format, args...))}
	}
}

func (m model) View() string {
	if m.screen == screenLogin {
		mode := "login"
		if m.register {
			mode = "register"
		}
		return fmt.Sprintf("%s\n\n%s\n%s\n\n%s\n%s\n",
			titleStyle.Render("chatserve · "+mode),
			m.username.View(),
			m.password.View(),
			statusStyle.Render("enter to submit · tab to switch field · ctrl+r to toggle register · ctrl+c to quit"),
			m.status,
		)
	}

	history := m.lines
	if maxLines := m.height - 5; maxLines > 0 && len(history) > maxLines {
		history = history[len(history)-maxLines:]
	}
	return fmt.Sprintf("%s\n%s\n\n%s\n%s\n",
		titleStyle.Render("chatserve"),
		statusStyle.Render(m.status),
		strings.Join(history, "\n"),
		m.input.View(),
	)
}
