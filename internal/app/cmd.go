package app

// Command はwizaryバイナリのサブコマンド。
type Command string

const (
	// CommandServe は認証APIサーバーを起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れ・無効化済みセッションの定期削除ワーカーを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はusers・sessions・registration_codes・user_subscriptionsのスキーマを適用する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のAPIサーバーの/healthを確認して終了する。
	// シェルを持たないdistrolessイメージのHEALTHCHECKから呼び出す。
	CommandHealthcheck Command = "healthcheck"
)

var knownCommands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand はos.Args[1:]の先頭要素をサブコマンドとして解釈する。
// 省略時や未知の値はserveとして扱い、コンテナのCMD未指定でもAPIが起動するようにする。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := knownCommands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}
