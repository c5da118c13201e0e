package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/avelt/photovault/internal/client/services"
	"github.com/avelt/photovault/internal/common"
)

const rootHelp = `Commands:
  login     log in (online, falls back to offline)
  register  create a new account
  sync      pull the latest library state
  export    mirror the library into the export folder
  status    show library and cache state
  logout    log out and wipe cached credentials
  quit      exit`

// Root runs the command loop until quit or EOF.
func (a *App) Root(ctx context.Context) {
	fmt.Fprintln(a.out, rootHelp)
	for {
		cmd, err := GetSimpleText(a.reader, "", a.out)
		if err != nil {
			return
		}
		if cmd == "quit" || cmd == "exit" {
			return
		}
		if err := a.Dispatch(ctx, cmd); err != nil {
			if errors.Is(err, common.ErrCancelled) {
				return
			}
			fmt.Fprintf(a.out, "error: %v\n", err)
		}
	}
}

// Dispatch executes one command.
func (a *App) Dispatch(ctx context.Context, cmd string) error {
	switch cmd {
	case "":
		return nil
	case "help":
		fmt.Fprintln(a.out, rootHelp)
		return nil
	case "login":
		return a.cmdLogin(ctx)
	case "register":
		return a.cmdRegister(ctx)
	case "sync":
		return a.requireLogin(func() error { return a.library.Sync(ctx) })
	case "export":
		return a.requireLogin(func() error { return a.library.Export(ctx) })
	case "status":
		return a.requireLogin(func() error { return a.cmdStatus(ctx) })
	case "logout":
		return a.cmdLogout(ctx)
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
}

func (a *App) requireLogin(fn func() error) error {
	if !a.isLoggedIn() {
		return errors.New("not logged in")
	}
	return fn()
}

func (a *App) cmdLogin(ctx context.Context) error {
	return a.cmdLoginWith(ctx, a.buildLibrary)
}

func (a *App) cmdLoginWith(ctx context.Context, build func(context.Context, *services.Session) error) error {
	email, err := GetSimpleText(a.reader, "Email", a.out)
	if err != nil {
		return err
	}
	password, err := GetPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	session, err := a.auth.OnlineLogin(ctx, email, password)
	if err != nil {
		fmt.Fprintf(a.out, "online login failed (%v), trying offline\n", err)
		session, err = a.auth.OfflineLogin(ctx, email, password)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, "logged in offline, library is read-only local state")
	}

	if err := build(ctx, session); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "logged in")
	return nil
}

func (a *App) cmdRegister(ctx context.Context) error {
	email, err := GetSimpleText(a.reader, "Email", a.out)
	if err != nil {
		return err
	}
	password, err := GetPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if err := a.auth.Register(ctx, email, password); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "registered, you can login now")
	return nil
}

func (a *App) cmdStatus(ctx context.Context) error {
	st, err := a.library.Status(ctx)
	if err != nil {
		return err
	}
	printStatus(a.out, st)
	return nil
}

func printStatus(out io.Writer, st *services.Status) {
	fmt.Fprintf(out, "collections: %d\nfiles: %d\ntrash: %d\nfiles awaiting indexing: %d\nblob cache: %s\n",
		st.Collections, st.Files, st.TrashItems, st.OutOfSyncFiles, st.CacheSize)
}

func (a *App) cmdLogout(ctx context.Context) error {
	if !a.isLoggedIn() {
		return errors.New("not logged in")
	}
	a.library.Logout(ctx)
	if err := a.auth.ClearOfflineData(ctx); err != nil {
		return err
	}
	a.library = nil
	a.session = nil
	fmt.Fprintln(a.out, "logged out")
	return nil
}
