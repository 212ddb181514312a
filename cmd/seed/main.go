package main

import (
	"context"
	"fmt"
	"os"

	"github.com/circulatehq/circulate/pkg/books"
	"github.com/circulatehq/circulate/pkg/config"
	"github.com/circulatehq/circulate/pkg/database"
	"github.com/circulatehq/circulate/pkg/migrations"
	"github.com/circulatehq/circulate/pkg/models"
	"github.com/circulatehq/circulate/pkg/users"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
	"github.com/urfave/cli/v2"
)

type seedBook struct {
	Title       string
	Author      string
	ISBN        string
	Genres      []string
	TotalCopies int
}

var seedBooks = []seedBook{
	// Fiction
	{"The Women", "Kristin Hannah", "9781250178633", []string{"Fiction", "Historical Fiction"}, 4},
	{"James", "Percival Everett", "9780385550369", []string{"Fiction", "Historical Fiction"}, 3},
	{"The God of the Woods", "Liz Moore", "9780593472255", []string{"Fiction", "Mystery", "Thriller"}, 3},
	{"All Fours", "Miranda July", "9781594634642", []string{"Fiction"}, 2},
	{"The Familiar", "Leigh Bardugo", "9781250878984", []string{"Fiction", "Fantasy"}, 3},
	{"Intermezzo", "Sally Rooney", "9780374611996", []string{"Fiction"}, 4},
	{"The Life Impossible", "Matt Haig", "9780593449394", []string{"Fiction", "Fantasy"}, 3},
	{"Here One Moment", "Liane Moriarty", "9781250343734", []string{"Fiction", "Mystery"}, 3},
	{"The Frozen River", "Ariel Lawhon", "9780385548588", []string{"Fiction", "Historical Fiction", "Mystery"}, 2},
	{"Wind and Truth", "Brandon Sanderson", "9780765326386", []string{"Fiction", "Fantasy"}, 3},
	// Nonfiction
	{"Nexus", "Yuval Noah Harari", "9780593905968", []string{"Nonfiction", "History", "Science"}, 4},
	{"Be Ready When the Luck Happens", "Ina Garten", "9780385550406", []string{"Nonfiction", "Biography"}, 3},
	{"The Demon of Unrest", "Erik Larson", "9780385348720", []string{"Nonfiction", "History"}, 3},
	{"Revenge of the Tipping Point", "Malcolm Gladwell", "9780316575805", []string{"Nonfiction", "Science"}, 4},
	{"What I Ate in One Year", "Stanley Tucci", "9781668064825", []string{"Nonfiction", "Biography"}, 2},
	{"Nuclear War: A Scenario", "Annie Jacobsen", "9780593476093", []string{"Nonfiction", "History", "Science"}, 3},
	{"The Wide Wide Sea", "Hampton Sides", "9780385545716", []string{"Nonfiction", "History"}, 2},
	{"Onyx Storm", "Rebecca Yarros", "9781649374530", []string{"Fiction", "Fantasy", "Romance"}, 5},
	{"The Secret History", "Donna Tartt", "9780679410324", []string{"Fiction", "Mystery", "Thriller"}, 3},
	{"Atomic Habits", "James Clear", "9780735211292", []string{"Nonfiction", "Self-Help"}, 5},
}

func main() {
	log := logger.New()

	cfg, err := config.New()
	if err != nil {
		log.Err(err).Fatal("config error")
	}

	db, err := database.New(cfg)
	if err != nil {
		log.Err(err).Fatal("database error")
	}

	app := &cli.App{
		Name:        "seed",
		Usage:       "CLI to seed the database",
		Description: "CLI to seed the database with a starter catalog and accounts",
		Commands: []*cli.Command{
			{
				Name:  "books",
				Usage: "create the starter book catalog",
				Action: func(c *cli.Context) error {
					if _, err := migrations.BringUpToDate(c.Context, db); err != nil {
						return err
					}
					return seedCatalog(c.Context, db)
				},
			},
			{
				Name:  "staff-user",
				Usage: "create a staff account",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "username", Required: true},
					&cli.StringFlag{Name: "password", Required: true},
					&cli.StringFlag{Name: "email"},
				},
				Action: func(c *cli.Context) error {
					if _, err := migrations.BringUpToDate(c.Context, db); err != nil {
						return err
					}

					opts := users.CreateUserOptions{
						Username: c.String("username"),
						Password: c.String("password"),
						IsStaff:  true,
					}
					if email := c.String("email"); email != "" {
						opts.Email = &email
					}

					user, err := users.NewService(db).Create(c.Context, opts)
					if err != nil {
						return err
					}
					fmt.Printf("Created staff user %s (id %d)\n", user.Username, user.ID)
					return nil
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Err(err).Fatal("app run error")
	}
}

func seedCatalog(ctx context.Context, db *bun.DB) error {
	svc := books.NewService(db)

	created := 0
	skipped := 0
	for _, sb := range seedBooks {
		exists, err := db.NewSelect().
			Model((*models.Book)(nil)).
			Where("title = ?", sb.Title).
			Where("author = ?", sb.Author).
			Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			skipped++
			fmt.Printf("  Skipped (already exists): %s\n", sb.Title)
			continue
		}

		isbn := sb.ISBN
		book := &models.Book{
			Title:           sb.Title,
			Author:          sb.Author,
			ISBN:            &isbn,
			TotalCopies:     sb.TotalCopies,
			AvailableCopies: sb.TotalCopies,
		}
		if err := svc.CreateBook(ctx, book, sb.Genres); err != nil {
			return err
		}
		created++
		fmt.Printf("  Created: %s\n", sb.Title)
	}

	fmt.Printf("\nDone. %d book(s) created, %d skipped.\n", created, skipped)
	return nil
}
