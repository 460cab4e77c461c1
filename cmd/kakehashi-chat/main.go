// Command kakehashi-chat is a terminal client for the realtime messaging endpoint
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/amirphl/Kakehashi/app/dto"
	"github.com/amirphl/Kakehashi/app/realtime/chatclient"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8081/ws", "realtime endpoint")
		token    = flag.String("token", os.Getenv("KAKEHASHI_TOKEN"), "access token (defaults to $KAKEHASHI_TOKEN)")
		userID   = flag.Uint("user", 0, "your user id")
		convID   = flag.Uint("conversation", 0, "conversation to open")
		prefPath = flag.String("prefs", "", "preference file (defaults to the user config dir)")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "chat ", log.LstdFlags)
	if *token == "" || *userID == 0 {
		flag.Usage()
		os.Exit(2)
	}

	path := *prefPath
	if path == "" {
		p, err := chatclient.DefaultPreferencePath()
		if err != nil {
			logger.Fatalf("Failed to resolve preference path: %v", err)
		}
		path = p
	}
	sound, err := chatclient.NewSoundNotifier(chatclient.NewPreferenceStore(path), chatclient.BellPlayer{W: os.Stdout}, logger)
	if err != nil {
		logger.Printf("Using default preferences: %v", err)
	}

	ctrl := chatclient.NewController(
		&chatclient.WebSocketDialer{URL: *url, Token: *token},
		chatclient.Handlers{
			OnStateChange: func(s chatclient.State) { fmt.Printf("* %s\n", s) },
			OnNewMessage: func(m dto.MessageDTO, active bool) {
				if active {
					fmt.Printf("[%d] %s\n", m.SenderID, m.Content)
					return
				}
				fmt.Printf("* new message in conversation %d\n", m.ConversationID)
			},
			OnTyping: func(id uint, typing bool) {
				if typing {
					fmt.Printf("* %d is typing...\n", id)
				}
			},
			OnMessagesRead: func(_, reader uint) { fmt.Printf("* %d read the conversation\n", reader) },
		},
		chatclient.Options{Notifier: sound, Logger: logger},
	)
	ctrl.SetUser(*userID)
	ctrl.SetConversation(*convID)
	if err := ctrl.Start(); err != nil {
		logger.Fatalf("Failed to start: %v", err)
	}
	defer ctrl.Teardown()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Println("commands: /conv <id>, /typing, /read, /sound on|off, /quit")
	for {
		select {
		case <-sigChan:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := handleLine(ctrl, sound, strings.TrimSpace(line)); quit {
				return
			}
		}
	}
}

func handleLine(ctrl *chatclient.Controller, sound *chatclient.SoundNotifier, line string) bool {
	ctx := context.Background()
	cmd, arg, _ := strings.Cut(line, " ")
	var err error
	switch cmd {
	case "":
		return false
	case "/quit":
		return true
	case "/conv":
		id, perr := strconv.ParseUint(arg, 10, 64)
		if perr != nil {
			fmt.Println("usage: /conv <id>")
			return false
		}
		ctrl.SetConversation(uint(id))
	case "/typing":
		err = ctrl.NotifyTyping(ctx)
	case "/read":
		err = ctrl.MarkRead(ctx)
	case "/sound":
		err = sound.SetEnabled(arg != "off")
	default:
		err = ctrl.SendMessage(ctx, line)
	}
	if err != nil {
		fmt.Printf("! %v\n", err)
	}
	return false
}
