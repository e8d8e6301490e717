package common

// Transaction columns
const (
	ColTransDateTime = "trans_date_trans_time"
	ColMerchant      = "merchant"
	ColCategory      = "category"
	ColAmount        = "amt"
	ColCity          = "city"
	ColState         = "state"
	ColLat           = "lat"
	ColLong          = "long"
	ColCityPop       = "city_pop"
	ColJob           = "job"
	ColDOB           = "dob"
	ColTransNum      = "trans_num"
	ColMerchLat      = "merch_lat"
	ColMerchLong     = "merch_long"
	ColIsFraud       = "is_fraud"
	ColPrediction    = "prediction"
)

// Derived feature columns
const (
	FeatDOBYear  = "dob_year"
	FeatDOBMonth = "dob_month"
	FeatDOBDay   = "dob_day"
	FeatHour     = "hour"
	FeatDay      = "day"
	FeatMonth    = "month"
)

// Model names
const (
	ModelIsolationForest = "isolation_forest"
	ModelXGBoost         = "xgboost"
)

// Environment variable keys
const (
	EnvConfigFile           = "CONFIG_FILE"
	EnvDataPath             = "DATA_PATH"
	EnvModelsDir            = "MODELS_DIR"
	EnvDatasetPath          = "DATASET_PATH"
	EnvDefaultModel         = "DEFAULT_MODEL"
	EnvInferenceTimeout     = "INFERENCE_TIMEOUT"
	EnvIForestTrees         = "IFOREST_TREES"
	EnvIForestSampleSize    = "IFOREST_SAMPLE_SIZE"
	EnvIForestContamination = "IFOREST_CONTAMINATION"
	EnvRandomSeed           = "RANDOM_SEED"
	EnvMetricsPort          = "METRICS_PORT"
	EnvDashboardPort        = "DASHBOARD_PORT"
	EnvModelServerURL       = "MODEL_SERVER_URL"
	EnvModelServerPort      = "MODEL_SERVER_PORT"
	EnvRemoteTimeout        = "REMOTE_TIMEOUT"
	EnvLogLevel             = "LOG_LEVEL"
)

// Configuration defaults
const (
	DefaultDataPath             = "data"
	DefaultModelsDir            = "models"
	DefaultDatasetPath          = "credit_card_fraud.csv"
	DefaultModel                = ModelIsolationForest
	DefaultIForestTrees         = 500
	DefaultIForestSampleSize    = 256
	DefaultIForestContamination = 0.005
	DefaultRandomSeed           = 42
	DefaultMetricsPort          = 8080
	DefaultDashboardPort        = 8501
	DefaultModelServerPort      = 8090
	DefaultLogLevel             = "info"
)

// Verdict labels written to the prediction column
const (
	LabelFraud  = "Fraud Transaction"
	LabelNormal = "Normal Transaction"
)
