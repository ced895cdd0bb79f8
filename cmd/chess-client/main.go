package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chessclient/internal/channel"
	"chessclient/internal/config"
	"chessclient/internal/game"
	"chessclient/internal/lobby"
	"chessclient/internal/session"
	"chessclient/internal/store"
	"chessclient/pkg/types"
)

// app bundles the coordinators for the command loop. The loop is a thin
// consumer: it reads coordinator state and calls coordinator methods, and
// all reconciliation happens underneath it.
type app struct {
	sessions *session.Store
	lobbies  *lobby.Coordinator
	games    *game.Coordinator
	channels *channel.Manager
	log      *zap.Logger
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	tokens := store.NewTokenStore(cfg.TokenFile)
	sessions := session.NewStore(cfg.ServerURL, tokens, cfg.HTTPTimeout, logger)
	channels := channel.NewManager(cfg.ServerURL, logger)

	notify := func(message string) { fmt.Println(">>", message) }

	lobbies := lobby.NewCoordinator(sessions.API(), channels, notify, logger)
	games := game.NewCoordinator(channels, notify, logger)

	// The single lobby-to-game transition: the server's game_start push
	// closes the lobby channel and opens the game channel.
	lobbies.OnGameStart(func(gameID string) {
		if err := games.Connect(context.Background(), gameID); err != nil {
			notify("Could not join the game: " + err.Error())
			return
		}
		notify("Game started! Waiting for the first board state...")
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Silent restore: not being logged in is a normal startup outcome.
	if sess, err := sessions.Restore(ctx); err != nil {
		notify("Could not reach the server to restore your session.")
	} else if sess != nil {
		fmt.Printf("Welcome back, %s.\n", sess.Username)
	}

	a := &app{sessions: sessions, lobbies: lobbies, games: games, channels: channels, log: logger}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.run(ctx) })
	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("exiting", zap.Error(err))
	}

	channels.Close(channel.KindGame)
	channels.Close(channel.KindLobby)
}

func (a *app) run(ctx context.Context) error {
	fmt.Println("chess-client — type 'help' for commands")
	reader := bufio.NewReader(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil // stdin closed
		}
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		if args[0] == "quit" || args[0] == "exit" {
			return nil
		}
		a.dispatch(ctx, args[0], args[1:])
	}
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string) {
	switch cmd {
	case "help":
		printHelp()
	case "register":
		a.register(ctx, args)
	case "login":
		a.login(ctx, args)
	case "logout":
		a.sessions.Logout(ctx)
		fmt.Println("Logged out.")
	case "whoami":
		if sess := a.sessions.Current(); sess != nil {
			fmt.Printf("%s (%s)\n", sess.Username, sess.UserID)
		} else {
			fmt.Println("Not logged in.")
		}
	case "lobbies":
		a.listLobbies(ctx)
	case "create":
		a.withSession(func(sess *types.Session) {
			gameID, err := a.lobbies.Create(ctx, sess.UserID, sess.Username)
			if err != nil {
				fmt.Println("Error:", err)
				return
			}
			fmt.Println("Lobby created:", gameID)
		})
	case "join":
		if len(args) != 1 {
			fmt.Println("usage: join <game-id>")
			return
		}
		a.withSession(func(sess *types.Session) {
			if err := a.lobbies.Join(ctx, args[0], sess.UserID, sess.Username); err != nil {
				fmt.Println("Error:", err)
				return
			}
			fmt.Println("Joined lobby", args[0])
		})
	case "leave":
		a.withLobby(func(sess *types.Session, l *types.Lobby) {
			if err := a.lobbies.Leave(ctx, l.GameID, sess.UserID); err != nil {
				fmt.Println("Error:", err)
			}
		})
	case "color":
		if len(args) != 1 || (args[0] != "white" && args[0] != "black") {
			fmt.Println("usage: color <white|black>")
			return
		}
		a.withLobby(func(sess *types.Session, l *types.Lobby) {
			if err := a.lobbies.SetColor(ctx, l.GameID, sess.UserID, types.Color(args[0])); err != nil {
				fmt.Println("Error:", err)
			}
		})
	case "ready", "unready":
		status := types.StatusReady
		if cmd == "unready" {
			status = types.StatusNotReady
		}
		a.withLobby(func(sess *types.Session, l *types.Lobby) {
			if err := a.lobbies.SetStatus(ctx, l.GameID, sess.UserID, status); err != nil {
				fmt.Println("Error:", err)
			}
		})
	case "start":
		a.withLobby(func(sess *types.Session, l *types.Lobby) {
			if !lobby.ReadyToStart(*l) {
				fmt.Println("Lobby is not ready: need two players, distinct colors, both ready.")
				return
			}
			if err := a.lobbies.StartGame(ctx, l.GameID, sess.UserID); err != nil {
				fmt.Println("Error:", err)
			}
		})
	case "move":
		a.move(ctx, args)
	case "board":
		a.printBoard()
	case "history":
		a.printHistory()
	default:
		fmt.Println("Unknown command; type 'help'.")
	}
}

func (a *app) register(ctx context.Context, args []string) {
	if len(args) != 2 {
		fmt.Println("usage: register <username> <password>")
		return
	}
	sess, err := a.sessions.Register(ctx, args[0], args[1])
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Printf("Registered and logged in as %s.\n", sess.Username)
}

func (a *app) login(ctx context.Context, args []string) {
	if len(args) != 2 {
		fmt.Println("usage: login <username> <password>")
		return
	}
	sess, err := a.sessions.Login(ctx, args[0], args[1])
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Printf("Logged in as %s.\n", sess.Username)
}

func (a *app) listLobbies(ctx context.Context) {
	lobbies, err := a.lobbies.List(ctx)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	if len(lobbies) == 0 {
		fmt.Println("No open lobbies.")
		return
	}
	for _, l := range lobbies {
		names := make([]string, 0, len(l.Players))
		for _, p := range l.Players {
			names = append(names, p.Username)
		}
		fmt.Printf("%s  (%d/2: %s)\n", l.GameID, len(l.Players), strings.Join(names, ", "))
	}
}

func (a *app) move(ctx context.Context, args []string) {
	if len(args) != 4 {
		fmt.Println("usage: move <start-row> <start-col> <end-row> <end-col>")
		return
	}
	nums := make([]int, 4)
	for i, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 || n > 7 {
			fmt.Println("Coordinates are 0-7.")
			return
		}
		nums[i] = n
	}
	a.withSession(func(sess *types.Session) {
		state := a.games.State()
		if state == nil {
			fmt.Println("No game in progress.")
			return
		}
		err := a.games.MakeMove(ctx, state.GameID, sess.UserID,
			types.Square{nums[0], nums[1]}, types.Square{nums[2], nums[3]})
		if err != nil {
			fmt.Println("Error:", err)
		}
	})
}

func (a *app) printBoard() {
	state := a.games.State()
	if state == nil {
		if a.games.ChannelState() == channel.Open {
			fmt.Println("Waiting for the first board state...")
		} else {
			fmt.Println("No game in progress.")
		}
		return
	}
	for row := 0; row < 8; row++ {
		for col := 0; col < 8; col++ {
			fmt.Print(figureGlyph(state.Board.Squares[row][col]), " ")
		}
		fmt.Println()
	}
	fmt.Printf("Turn: %s  Status: %s\n", state.CurrentTurn, state.Status)
}

func (a *app) printHistory() {
	state := a.games.State()
	if state == nil {
		fmt.Println("No game in progress.")
		return
	}
	fmt.Println("White:")
	for _, m := range state.PlayerWhite.MoveHistory {
		fmt.Println(" ", game.ParseMoveNotation(m))
	}
	fmt.Println("Black:")
	for _, m := range state.PlayerBlack.MoveHistory {
		fmt.Println(" ", game.ParseMoveNotation(m))
	}
}

func figureGlyph(f *types.Figure) string {
	if f == nil {
		return "."
	}
	glyphs := map[string]string{
		"king": "k", "queen": "q", "rook": "r",
		"bishop": "b", "knight": "n", "pawn": "p",
	}
	g, ok := glyphs[f.Name]
	if !ok {
		return "?"
	}
	if f.Color == types.ColorWhite {
		return strings.ToUpper(g)
	}
	return g
}

func (a *app) withSession(fn func(*types.Session)) {
	sess := a.sessions.Current()
	if sess == nil {
		fmt.Println("Log in first.")
		return
	}
	fn(sess)
}

func (a *app) withLobby(fn func(*types.Session, *types.Lobby)) {
	a.withSession(func(sess *types.Session) {
		l := a.lobbies.Current()
		if l == nil {
			fmt.Println("You are not in a lobby.")
			return
		}
		fn(sess, l)
	})
}

func printHelp() {
	fmt.Println(`register <user> <pass>   create an account and log in
login <user> <pass>      log in
logout                   log out
whoami                   show the current session
lobbies                  list open lobbies
create                   create a lobby and wait for an opponent
join <game-id>           join a lobby
leave                    leave the current lobby
color <white|black>      pick a color
ready | unready          toggle readiness
start                    start the game (host, ready lobby only)
move <r> <c> <r> <c>     move a piece (rows/cols 0-7)
board                    print the board
history                  print move history
quit                     exit`)
}
