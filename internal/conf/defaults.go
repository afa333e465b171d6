package conf

import (
	"time"

	"github.com/spf13/viper"
)

// DefaultAdminToken is used when no token is configured. Operators are warned at startup.
const DefaultAdminToken = "change_me"

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("logging.defaultlevel", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.fileoutput.enabled", true)
	viper.SetDefault("logging.fileoutput.path", "logs/cropscan.log")
	viper.SetDefault("logging.fileoutput.level", "info")
	viper.SetDefault("logging.fileoutput.maxsize", 100)
	viper.SetDefault("logging.fileoutput.maxage", 30)
	viper.SetDefault("logging.fileoutput.maxrotatedfiles", 10)
	viper.SetDefault("logging.fileoutput.compress", false)

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.bodylimit", "15M")
	viper.SetDefault("server.allowedorigins", []string{"*"})
	viper.SetDefault("server.shutdowntimeout", 10*time.Second)
	viper.SetDefault("server.backendurl", "http://127.0.0.1:8000")

	viper.SetDefault("client.predicttimeout", 30*time.Second)
	viper.SetDefault("client.defaulttimeout", 10*time.Second)

	viper.SetDefault("security.admintoken", DefaultAdminToken)

	viper.SetDefault("model.backend", "tflite")
	viper.SetDefault("model.modelpath", "model/crop_disease_model.tflite")
	viper.SetDefault("model.labelpath", "model/labels.txt")
	viper.SetDefault("model.inputsize", 224)
	viper.SetDefault("model.layout", "NHWC")
	viper.SetDefault("model.threads", 0)
	viper.SetDefault("model.softmax", "auto")
	viper.SetDefault("model.onnx.librarypath", "")
	viper.SetDefault("model.onnx.inputname", "input")
	viper.SetDefault("model.onnx.outputname", "output")
	viper.SetDefault("model.remote.url", "http://127.0.0.1:8501")
	viper.SetDefault("model.remote.name", "crop_disease")
	viper.SetDefault("model.remote.timeout", 20*time.Second)

	viper.SetDefault("prediction.topk", 3)
	viper.SetDefault("prediction.cropseparator", "_")

	viper.SetDefault("catalogpath", "")
	viper.SetDefault("reportsdir", "reports")
	viper.SetDefault("uploadsdir", "")

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "crop_scans.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "cropscan")
	viper.SetDefault("output.mysql.password", "")
	viper.SetDefault("output.mysql.database", "cropscan")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("places.apikey", "")
	viper.SetDefault("places.baseurl", "https://maps.googleapis.com/maps/api/place")
	viper.SetDefault("places.defaultradius", 5000)
	viper.SetDefault("places.defaultquery", "agro shop")
	viper.SetDefault("places.cachettl", 30*time.Minute)
	viper.SetDefault("places.ratelimit", 5.0)
	viper.SetDefault("places.timeout", 10*time.Second)

	viper.SetDefault("tts.apikey", "")
	viper.SetDefault("tts.endpoint", "")
	viper.SetDefault("tts.dir", "tts_files")
	viper.SetDefault("tts.voicename", "")
	viper.SetDefault("tts.timeout", 15*time.Second)

	viper.SetDefault("chat.apikey", "")
	viper.SetDefault("chat.baseurl", "https://api.openai.com")
	viper.SetDefault("chat.model", "gpt-4o-mini")
	viper.SetDefault("chat.maxtokens", 300)
	viper.SetDefault("chat.systemprompt", "You are an expert agronomist. Give short, actionable advice.")
	viper.SetDefault("chat.timeout", 25*time.Second)

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.clientid", "cropscan")
	viper.SetDefault("mqtt.topic", "cropscan/scans")
	viper.SetDefault("mqtt.retain", false)
	viper.SetDefault("mqtt.timeout", 10*time.Second)

	viper.SetDefault("notification.enabled", false)
	viper.SetDefault("notification.urls", []string{})
	viper.SetDefault("notification.minconfidence", 0.7)
	viper.SetDefault("notification.timeout", 10*time.Second)

	viper.SetDefault("backup.enabled", false)
	viper.SetDefault("backup.stagingdir", "backups/staging")
	viper.SetDefault("backup.maxattempts", 4)
	viper.SetDefault("backup.interval", 24*time.Hour)
	viper.SetDefault("backup.keep", 7)
	viper.SetDefault("backup.local.enabled", true)
	viper.SetDefault("backup.local.path", "backups")
	viper.SetDefault("backup.ftp.enabled", false)
	viper.SetDefault("backup.ftp.port", 21)
	viper.SetDefault("backup.ftp.path", "/cropscan")
	viper.SetDefault("backup.ftp.timeout", 30*time.Second)
	viper.SetDefault("backup.sftp.enabled", false)
	viper.SetDefault("backup.sftp.port", 22)
	viper.SetDefault("backup.sftp.path", "cropscan")
	viper.SetDefault("backup.sftp.timeout", 30*time.Second)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.listen", "")

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
}
