package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"

	"github.com/bringyour/social/social"
)

const SocialCtlVersion = "0.0.1"

const DefaultApiUrl = "http://localhost:8080"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := fmt.Sprintf(
		`Social client.

The default api url is %s. It can be set with SOCIAL_API_URL.
Commands other than signup and login need an identity jwt, from --jwt or SOCIAL_JWT.
signup and login print the jwt.

Usage:
    socialctl signup --email=<email> --name=<name> [--password=<password>] [--api_url=<api_url>]
    socialctl login --email=<email> [--password=<password>] [--api_url=<api_url>]
    socialctl logout [--jwt=<jwt>] [--api_url=<api_url>]
    socialctl post <content> [--image=<image>] [--jwt=<jwt>] [--api_url=<api_url>]
    socialctl like <post_id> [--unlike] [--jwt=<jwt>] [--api_url=<api_url>]
    socialctl comment <post_id> <text> [--jwt=<jwt>] [--api_url=<api_url>]
    socialctl feed [--follow] [--jwt=<jwt>] [--api_url=<api_url>]
    socialctl chat <friend_id> [<text>] [--follow] [--jwt=<jwt>] [--api_url=<api_url>]
    socialctl search [<query>] [--jwt=<jwt>] [--api_url=<api_url>]
    socialctl profile [<user_id>] [--bio=<bio>] [--photo=<photo>] [--jwt=<jwt>] [--api_url=<api_url>]
    socialctl friend <user_id> [--jwt=<jwt>] [--api_url=<api_url>]
    socialctl -h | --help
    socialctl --version

Options:
    -h --help                Show this screen.
    --version                Show version.
    --api_url=<api_url>      Backend url.
    --jwt=<jwt>              Identity jwt.
    --email=<email>          Account email.
    --name=<name>            Display name.
    --password=<password>    Account password. Prompted when omitted.
    --image=<image>          Image file to attach to the post.
    --unlike                 Remove the like.
    --follow                 Keep printing live changes until interrupted.
    --bio=<bio>              New bio for your profile.
    --photo=<photo>          New avatar image file for your profile.`,
		DefaultApiUrl,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], SocialCtlVersion)
	if err != nil {
		panic(err)
	}

	flag.Set("logtostderr", "true")

	if signup_, _ := opts.Bool("signup"); signup_ {
		signup(opts)
	} else if login_, _ := opts.Bool("login"); login_ {
		login(opts)
	} else if logout_, _ := opts.Bool("logout"); logout_ {
		logout(opts)
	} else if post_, _ := opts.Bool("post"); post_ {
		post(opts)
	} else if like_, _ := opts.Bool("like"); like_ {
		like(opts)
	} else if comment_, _ := opts.Bool("comment"); comment_ {
		comment(opts)
	} else if feed_, _ := opts.Bool("feed"); feed_ {
		feed(opts)
	} else if chat_, _ := opts.Bool("chat"); chat_ {
		chat(opts)
	} else if search_, _ := opts.Bool("search"); search_ {
		search(opts)
	} else if profile_, _ := opts.Bool("profile"); profile_ {
		profile(opts)
	} else if friend_, _ := opts.Bool("friend"); friend_ {
		friend(opts)
	}
}

// cancels on interrupt
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func apiUrl(opts docopt.Opts) string {
	if apiUrl, err := opts.String("--api_url"); err == nil && apiUrl != "" {
		return apiUrl
	}
	if apiUrl := os.Getenv("SOCIAL_API_URL"); apiUrl != "" {
		return apiUrl
	}
	return DefaultApiUrl
}

func password(opts docopt.Opts) string {
	if password, err := opts.String("--password"); err == nil && password != "" {
		return password
	}
	fmt.Print("Enter password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		panic(err)
	}
	fmt.Printf("\n")
	return string(passwordBytes)
}

func newApp(ctx context.Context, opts docopt.Opts) (*social.App, *social.ApiIdentityService) {
	api := social.NewApiWithContext(ctx, apiUrl(opts))
	identityService := social.NewApiIdentityService(api)
	app := social.NewAppWithDefaults(
		ctx,
		identityService,
		social.NewApiDocumentStoreWithDefaults(api),
		social.NewApiBlobStore(api),
	)
	return app, identityService
}

// an app signed in with the saved jwt
func signedInApp(ctx context.Context, opts docopt.Opts) *social.App {
	jwt, _ := opts.String("--jwt")
	if jwt == "" {
		jwt = os.Getenv("SOCIAL_JWT")
	}
	if jwt == "" {
		Err.Fatalf("Not signed in. Pass --jwt or set SOCIAL_JWT.")
	}
	app, identityService := newApp(ctx, opts)
	if _, err := identityService.SignInWithJwt(jwt); err != nil {
		Err.Fatalf("Invalid jwt: %s", err)
	}
	if err := app.Session.WaitLoaded(ctx); err != nil {
		Err.Fatalf("%s", err)
	}
	return app
}

func readBlob(path string) *social.Blob {
	data, err := os.ReadFile(path)
	if err != nil {
		Err.Fatalf("Could not read %s: %s", path, err)
	}
	return &social.Blob{
		Data:        data,
		ContentType: http.DetectContentType(data),
	}
}

func signup(opts docopt.Opts) {
	ctx, cancel := signalContext()
	defer cancel()

	email, _ := opts.String("--email")
	name, _ := opts.String("--name")

	app, identityService := newApp(ctx, opts)
	defer app.Close()

	identity, err := app.SignUp(ctx, &social.SignUpArgs{
		Name:     name,
		Email:    email,
		Password: password(opts),
	})
	if err != nil {
		Err.Fatalf("Sign up failed: %s", err)
	}
	Out.Printf("uid: %s", identity.Id)
	Out.Printf("jwt: %s", identityService.Jwt())
}

func login(opts docopt.Opts) {
	ctx, cancel := signalContext()
	defer cancel()

	email, _ := opts.String("--email")

	app, identityService := newApp(ctx, opts)
	defer app.Close()

	identity, err := app.SignIn(ctx, &social.Credentials{
		Email:    email,
		Password: password(opts),
	})
	if err != nil {
		Err.Fatalf("Login failed: %s", err)
	}
	Out.Printf("uid: %s", identity.Id)
	Out.Printf("jwt: %s", identityService.Jwt())
}

func logout(opts docopt.Opts) {
	ctx, cancel := signalContext()
	defer cancel()

	app := signedInApp(ctx, opts)
	defer app.Close()

	navbar := social.NewNavbarView(app)
	defer navbar.Close()
	route, err := navbar.Logout(ctx)
	if err != nil {
		Err.Fatalf("Logout failed: %s", err)
	}
	Out.Printf("signed out, %s", route)
}

func post(opts docopt.Opts) {
	ctx, cancel := signalContext()
	defer cancel()

	app := signedInApp(ctx, opts)
	defer app.Close()

	content, _ := opts.String("<content>")
	var image *social.Blob
	if imagePath, err := opts.String("--image"); err == nil && imagePath != "" {
		image = readBlob(imagePath)
	}
	postId, err := app.Mutations.CreatePost(ctx, content, image)
	if err != nil {
		Err.Fatalf("Post failed: %s", err)
	}
	Out.Printf("post_id: %s", postId)
}

func like(opts docopt.Opts) {
	ctx, cancel := signalContext()
	defer cancel()

	app := signedInApp(ctx, opts)
	defer app.Close()

	postId, _ := opts.String("<post_id>")
	var err error
	if unlike, _ := opts.Bool("--unlike"); unlike {
		err = app.Mutations.Unlike(ctx, social.Id(postId))
	} else {
		err = app.Mutations.Like(ctx, social.Id(postId))
	}
	if err != nil {
		Err.Fatalf("Like failed: %s", err)
	}
}

func comment(opts docopt.Opts) {
	ctx, cancel := signalContext()
	defer cancel()

	app := signedInApp(ctx, opts)
	defer app.Close()

	postId, _ := opts.String("<post_id>")
	text, _ := opts.String("<text>")
	commentId, err := app.Mutations.AddComment(ctx, social.Id(postId), text)
	if err != nil {
		Err.Fatalf("Comment failed: %s", err)
	}
	Out.Printf("comment_id: %s", commentId)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "pending"
	}
	return t.Local().Format(time.DateTime)
}

func printFeed(feed *social.FeedView) {
	Out.Printf("--- feed (%d posts)", len(feed.Posts()))
	for _, card := range feed.Cards() {
		post := card.Post()
		Out.Printf("%s %s [%s]", post.Id, post.AuthorName, formatTime(post.Timestamp))
		Out.Printf("    %s", post.Content)
		if post.ImageUrl != nil {
			Out.Printf("    image: %s", *post.ImageUrl)
		}
		liked := ""
		if card.LikedByMe() {
			liked = " (liked)"
		}
		Out.Printf("    %d likes%s, %d comments", card.LikeCount(), liked, card.CommentCount())
		for _, comment := range card.Comments() {
			Out.Printf("      %s: %s", comment.Uid, comment.Content)
		}
	}
}

func feed(opts docopt.Opts) {
	ctx, cancel := signalContext()
	defer cancel()

	app := signedInApp(ctx, opts)
	defer app.Close()

	feed, err := social.NewFeedView(app)
	if err != nil {
		Err.Fatalf("%s", err)
	}
	defer feed.Close()

	if err := feed.WaitActive(ctx); err != nil {
		Err.Fatalf("Feed failed: %s", err)
	}
	for _, card := range feed.Cards() {
		card.WaitActive(ctx)
	}

	if follow, _ := opts.Bool("--follow"); !follow {
		printFeed(feed)
		return
	}

	// change callbacks run on the app loop
	unsub := feed.AddChangeCallback(func() {
		if err := feed.Err(); err != nil {
			Err.Printf("Feed error: %s", err)
			return
		}
		printFeed(feed)
	})
	defer unsub()
	app.Sync(ctx, func() {
		printFeed(feed)
	})
	<-ctx.Done()
}

func printMessages(chat *social.ChatView) {
	for _, message := range chat.Messages() {
		from := string(message.Sender)
		if chat.IsMine(message) {
			from = "me"
		}
		Out.Printf("[%s] %s: %s", formatTime(message.Timestamp), from, message.Text)
	}
}

func chat(opts docopt.Opts) {
	ctx, cancel := signalContext()
	defer cancel()

	app := signedInApp(ctx, opts)
	defer app.Close()

	friendId, _ := opts.String("<friend_id>")
	chat, err := social.NewChatView(app, social.Id(friendId))
	if err != nil {
		Err.Fatalf("%s", err)
	}
	defer chat.Close()

	if err := chat.WaitActive(ctx); err != nil {
		Err.Fatalf("Chat failed: %s", err)
	}

	if text, err := opts.String("<text>"); err == nil && text != "" {
		count := len(chat.Messages())
		if _, err := chat.Send(ctx, text); err != nil {
			Err.Fatalf("Send failed: %s", err)
		}
		// wait for the send to come back on the subscription
		chat.WaitMessageCount(ctx, count+1)
	}

	if follow, _ := opts.Bool("--follow"); !follow {
		printMessages(chat)
		return
	}

	seen := 0
	printNew := func() {
		messages := chat.Messages()
		for _, message := range messages[min(seen, len(messages)):] {
			from := string(message.Sender)
			if chat.IsMine(message) {
				from = "me"
			}
			Out.Printf("[%s] %s: %s", formatTime(message.Timestamp), from, message.Text)
		}
		seen = len(messages)
	}
	unsub := chat.AddChangeCallback(printNew)
	defer unsub()
	app.Sync(ctx, printNew)
	<-ctx.Done()
}

func search(opts docopt.Opts) {
	ctx, cancel := signalContext()
	defer cancel()

	app := signedInApp(ctx, opts)
	defer app.Close()

	search, err := social.NewSearchView(app)
	if err != nil {
		Err.Fatalf("%s", err)
	}
	defer search.Close()

	if err := search.Load(ctx); err != nil {
		Err.Fatalf("Search failed: %s", err)
	}
	query, _ := opts.String("<query>")
	search.SetQuery(query)
	for _, user := range search.Results() {
		Out.Printf("%s [%s] %s", user.Id, social.AvatarInitial(user.DisplayName()), user.DisplayName())
	}
}

func profile(opts docopt.Opts) {
	ctx, cancel := signalContext()
	defer cancel()

	app := signedInApp(ctx, opts)
	defer app.Close()

	userId, _ := opts.String("<user_id>")
	if userId == "" {
		userId = string(app.Session.Identity().Id)
	}

	profile, err := social.NewProfileView(app, social.Id(userId))
	if err != nil {
		Err.Fatalf("%s", err)
	}
	defer profile.Close()

	if err := profile.WaitLoaded(ctx); err != nil {
		Err.Fatalf("Profile failed: %s", err)
	}
	if err := profile.Err(); err != nil {
		Err.Fatalf("Profile failed: %s", err)
	}

	bio, _ := opts.String("--bio")
	photoPath, _ := opts.String("--photo")
	if bio != "" || photoPath != "" {
		if !profile.CanEdit() {
			Err.Fatalf("Cannot edit another profile")
		}
		var photo *social.Blob
		if photoPath != "" {
			photo = readBlob(photoPath)
		}
		if bio == "" && profile.Profile() != nil {
			bio = profile.Profile().Bio
		}
		if err := profile.UpdateProfile(ctx, bio, photo); err != nil {
			Err.Fatalf("Update failed: %s", err)
		}
		if err := profile.WaitLoaded(ctx); err != nil {
			Err.Fatalf("Profile failed: %s", err)
		}
	}

	user := profile.Profile()
	if user == nil {
		Out.Printf("%s has no profile", userId)
		return
	}
	Out.Printf("%s %s", user.Id, user.DisplayName())
	if user.Bio != "" {
		Out.Printf("    %s", user.Bio)
	}
	if user.PhotoUrl != "" {
		Out.Printf("    photo: %s", user.PhotoUrl)
	}
	Out.Printf("    %d friends", len(user.Friends))
	profile.WaitPostsActive(ctx)
	for _, post := range profile.Posts() {
		Out.Printf("  %s [%s] %s", post.Id, formatTime(post.Timestamp), strings.TrimSpace(post.Content))
	}
}

func friend(opts docopt.Opts) {
	ctx, cancel := signalContext()
	defer cancel()

	app := signedInApp(ctx, opts)
	defer app.Close()

	userId, _ := opts.String("<user_id>")
	if err := app.Mutations.AddFriend(ctx, social.Id(userId)); err != nil {
		Err.Fatalf("Add friend failed: %s", err)
	}
	Out.Printf("added %s", userId)
}
