package cmd

import (
	"bytes"
	"context"
	"log"
	"text/template"

	"github.com/cadops/cadet/pkg/locker"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
)

var lockListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the locks currently held",
	Long: `Lists every edit lock currently held in this repository, as reported
by the lock primitive. Paths are marker paths, the holder and the
primitive assigned lock id follow.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		env, err := newRunEnv(ctx, true)
		if err != nil {
			wrapFatalln("resolve repository", err)
			return
		}
		locks := locker.New(env.fs, env.git, env.cfg, locker.Logger(env.l))
		records, err := locks.ListActive(ctx)
		if err != nil {
			wrapFatalln("list locks", err)
			return
		}
		if cadetFlags.lock.template != "" {
			listLineTemplate, err := template.New("lock line").Parse(cadetFlags.lock.template)
			if err != nil {
				wrapFatalln("invalid template", err)
				return
			}
			for _, r := range records {
				var buf bytes.Buffer
				if err := listLineTemplate.Execute(&buf, r); err != nil {
					log.Println("executing template:", err)
					continue
				}
				log.Println(buf.String())
			}
			return
		}
		table := uitable.New()
		table.AddRow("PATH", "OWNER", "ID")
		for _, r := range records {
			table.AddRow(r.Path, r.Owner, r.ID)
		}
		infoLogger.Println(table)
	},
}

func init() {
	addTemplateFlag(lockListCmd)
	lockCmd.AddCommand(lockListCmd)
}
