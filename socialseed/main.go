package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/docopt/docopt-go"

	"github.com/bringyour/social/social"
)

const SocialSeedVersion = "0.0.1"

const DefaultApiUrl = "http://localhost:8080"

const SeedPassword = "password1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := fmt.Sprintf(
		`Seeds a social backend with fake users, posts, likes, comments, friends and chats.

Every seeded account uses the password %s.
The default api url is %s. It can be set with SOCIAL_API_URL.

Usage:
    socialseed [--api_url=<api_url>] [--users=<users>] [--posts=<posts>]
        [--comments=<comments>] [--messages=<messages>] [--seed=<seed>]
    socialseed -h | --help
    socialseed --version

Options:
    -h --help              Show this screen.
    --version              Show version.
    --api_url=<api_url>    Backend url.
    --users=<users>        Number of users [default: 5].
    --posts=<posts>        Posts per user [default: 3].
    --comments=<comments>  Comments per post [default: 2].
    --messages=<messages>  Messages per conversation [default: 4].
    --seed=<seed>          Random seed. The current time when 0 [default: 0].`,
		SeedPassword,
		DefaultApiUrl,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], SocialSeedVersion)
	if err != nil {
		panic(err)
	}

	seed(opts)
}

type seedUser struct {
	app      *social.App
	identity *social.Identity
}

func seed(opts docopt.Opts) {
	apiUrl, _ := opts.String("--api_url")
	if apiUrl == "" {
		apiUrl = os.Getenv("SOCIAL_API_URL")
	}
	if apiUrl == "" {
		apiUrl = DefaultApiUrl
	}
	userCount, _ := opts.Int("--users")
	postCount, _ := opts.Int("--posts")
	commentCount, _ := opts.Int("--comments")
	messageCount, _ := opts.Int("--messages")
	randomSeed, _ := opts.Int("--seed")

	if randomSeed == 0 {
		gofakeit.Seed(time.Now().UnixNano())
	} else {
		gofakeit.Seed(int64(randomSeed))
	}

	ctx := context.Background()

	users := []*seedUser{}
	defer func() {
		for _, user := range users {
			user.app.Close()
		}
	}()
	for i := 0; i < userCount; i += 1 {
		user, err := signUp(ctx, apiUrl)
		if err != nil {
			Err.Fatalf("Sign up failed: %s", err)
		}
		users = append(users, user)
		Out.Printf("user %s %s <%s>", user.identity.Id, user.identity.Name, user.identity.Email)

		bio := gofakeit.Sentence(8)
		if err := user.app.Mutations.UpdateProfile(ctx, bio, nil); err != nil {
			Err.Fatalf("Profile failed: %s", err)
		}
	}

	postIds := []social.Id{}
	for _, user := range users {
		for i := 0; i < postCount; i += 1 {
			postId, err := user.app.Mutations.CreatePost(ctx, gofakeit.Sentence(gofakeit.Number(4, 16)), nil)
			if err != nil {
				Err.Fatalf("Post failed: %s", err)
			}
			postIds = append(postIds, postId)
		}
	}
	Out.Printf("%d posts", len(postIds))

	likeCount := 0
	for _, postId := range postIds {
		for _, user := range users {
			if gofakeit.Bool() {
				if err := user.app.Mutations.Like(ctx, postId); err != nil {
					Err.Fatalf("Like failed: %s", err)
				}
				likeCount += 1
			}
		}
		for i := 0; i < commentCount; i += 1 {
			user := users[gofakeit.Number(0, len(users)-1)]
			if _, err := user.app.Mutations.AddComment(ctx, postId, gofakeit.Sentence(gofakeit.Number(2, 10))); err != nil {
				Err.Fatalf("Comment failed: %s", err)
			}
		}
	}
	Out.Printf("%d likes, %d comments", likeCount, len(postIds)*commentCount)

	// each user befriends and chats with the next
	for i := 0; i+1 < len(users); i += 1 {
		a := users[i]
		b := users[i+1]
		if err := a.app.Mutations.AddFriend(ctx, b.identity.Id); err != nil {
			Err.Fatalf("Add friend failed: %s", err)
		}
		for j := 0; j < messageCount; j += 1 {
			sender, recipient := a, b
			if j%2 == 1 {
				sender, recipient = b, a
			}
			if _, err := sender.app.Mutations.SendMessage(ctx, recipient.identity.Id, gofakeit.Sentence(gofakeit.Number(3, 12))); err != nil {
				Err.Fatalf("Message failed: %s", err)
			}
		}
		Out.Printf("conversation %s", social.ConversationId(a.identity.Id, b.identity.Id))
	}
}

func signUp(ctx context.Context, apiUrl string) (*seedUser, error) {
	api := social.NewApiWithContext(ctx, apiUrl)
	app := social.NewAppWithDefaults(
		ctx,
		social.NewApiIdentityService(api),
		social.NewApiDocumentStoreWithDefaults(api),
		social.NewApiBlobStore(api),
	)
	identity, err := app.SignUp(ctx, &social.SignUpArgs{
		Name:     gofakeit.Name(),
		Email:    gofakeit.Email(),
		Password: SeedPassword,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	return &seedUser{
		app:      app,
		identity: identity,
	}, nil
}
